package datasets

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/phuslu/log"
)

// MaybeDownload fetches url into workDirectory unless the target file is
// already there, returning the local file path. filename defaults to the
// last url path segment. When expectedBytes is positive the file size is
// verified; a mismatching file is deleted so a retry can redownload cleanly.
func MaybeDownload(ctx context.Context, fileURL, filename, workDirectory string, expectedBytes int64) (string, error) {
	if filename == "" {
		parsed, err := url.Parse(fileURL)
		if err != nil {
			return "", fmt.Errorf("parsing download url: %w", err)
		}
		filename = path.Base(parsed.Path)
	}
	if err := os.MkdirAll(workDirectory, 0o755); err != nil {
		return "", err
	}
	filePath := filepath.Join(workDirectory, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := download(ctx, fileURL, filePath); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		log.Debug().Str("file", filePath).Msg("already downloaded")
	}

	if expectedBytes > 0 {
		info, err := os.Stat(filePath)
		if err != nil {
			return "", err
		}
		if info.Size() != expectedBytes {
			if removeErr := os.Remove(filePath); removeErr != nil {
				return "", removeErr
			}
			return "", fmt.Errorf("failed to verify %s: got %d bytes, expected %d",
				filePath, info.Size(), expectedBytes)
		}
	}
	return filePath, nil
}

func download(ctx context.Context, fileURL, filePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", fileURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", fileURL, resp.Status)
	}
	out, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(filePath)
		return fmt.Errorf("writing %s: %w", filePath, err)
	}
	return out.Close()
}

// ExtractTar unpacks a tar archive, gzip compressed or plain, into destDir.
// Both the archive and the destination directory must already exist.
func ExtractTar(filePath, destDir string) error {
	if err := checkExtractPaths(filePath, destDir); err != nil {
		return err
	}
	source, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = source.Close()
	}()

	buffered := bufio.NewReader(source)
	var reader io.Reader = buffered
	if magic, err := buffered.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gzReader, err := gzip.NewReader(buffered)
		if err != nil {
			return fmt.Errorf("opening gzip stream of %s: %w", filePath, err)
		}
		defer func() {
			_ = gzReader.Close()
		}()
		reader = gzReader
	}

	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", filePath, err)
		}
		target, err := containedPath(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeExtracted(target, tarReader, header.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

// ExtractZip unpacks a zip archive into destDir. Both the archive and the
// destination directory must already exist.
func ExtractZip(filePath, destDir string) error {
	if err := checkExtractPaths(filePath, destDir); err != nil {
		return err
	}
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer func() {
		_ = archive.Close()
	}()
	for _, entry := range archive.File {
		target, err := containedPath(destDir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		source, err := entry.Open()
		if err != nil {
			return err
		}
		writeErr := writeExtracted(target, source, entry.Mode())
		_ = source.Close()
		if writeErr != nil {
			return writeErr
		}
	}
	return nil
}

func checkExtractPaths(filePath, destDir string) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("archive %s: %w", filePath, err)
	}
	info, err := os.Stat(destDir)
	if err != nil {
		return fmt.Errorf("destination %s: %w", destDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %s is not a directory", destDir)
	}
	return nil
}

func containedPath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %s escapes destination directory", name)
	}
	return target, nil
}

func writeExtracted(target string, source io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, source); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// DownloadPath resolves a working directory for downloads. An empty path
// yields a fresh temporary directory together with a cleanup function that
// removes it; a non-empty path is created if needed and cleanup is a no-op.
func DownloadPath(dir string) (string, func(), error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "sentlab-download-")
		if err != nil {
			return "", nil, err
		}
		return tmp, func() {
			_ = os.RemoveAll(tmp)
		}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	return dir, func() {}, nil
}
