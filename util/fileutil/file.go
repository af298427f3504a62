package fileutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

// GetPathType returns "S3" for s3:// URLs and "os" otherwise.
func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

// PathJoinSafe joins path components. For s3 URLs the scheme's double slash
// must survive, so the base is joined manually.
func PathJoinSafe(elem ...string) string {
	var path string
	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		path = basePath + string(filepath.Separator) + filepath.Join(elem[1:]...)
	default:
		path = filepath.Join(elem...)
	}
	return path
}

func ReadFileBytes(filename string) ([]byte, error) {
	f, err := fileSystem.OpenURL(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	defer func(f io.Closer) {
		err = errors.Join(err, f.Close())
	}(f)

	buf := &bytes.Buffer{}
	if _, readErr := io.Copy(buf, f); readErr != nil {
		return nil, readErr
	}
	return buf.Bytes(), err
}

func OpenFile(filename string) (io.ReadCloser, error) {
	return fileSystem.OpenURL(context.Background(), filename)
}

// NewFileWriter returns a writer to filename, replacing any existing file.
func NewFileWriter(filename string) (io.WriteCloser, error) {
	exists, err := FileExists(filename)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := fileSystem.Delete(context.Background(), filename); err != nil {
			return nil, err
		}
	}
	return fileSystem.NewWriter(context.Background(), filename, 0o644, option.NewSkipChecksum(true))
}

func FileExists(filename string) (bool, error) {
	return fileSystem.Exists(context.Background(), filename)
}

func FileSize(filename string) (int64, error) {
	object, err := fileSystem.Object(context.Background(), filename)
	if err != nil {
		return 0, err
	}
	return object.Size(), nil
}

// CopyFile streams from one location to another, across storage schemes.
func CopyFile(ctx context.Context, from string, to string) error {
	return fileSystem.Copy(ctx, from, to, option.NewDest(option.NewSkipChecksum(true)))
}

func DeleteFile(filename string) error {
	return fileSystem.Delete(context.Background(), filename)
}

func CreateDir(dir string) error {
	return fileSystem.Create(context.Background(), dir, os.ModePerm, true)
}

// ReadLine returns a single line (without the ending \n) from the buffered
// reader, joining continuation reads to avoid the 65K line limit.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var (
		isPrefix = true
		err      error
		line, ln []byte
	)
	for isPrefix && err == nil {
		line, isPrefix, err = r.ReadLine()
		ln = append(ln, line...)
	}
	return ln, err
}
