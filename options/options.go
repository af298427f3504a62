package options

import (
	"fmt"
	"runtime"

	"github.com/sentlab/sentlab/util/fileutil"
)

// Options holds the runtime configuration shared by every classifier: which
// inference backend to use, where its shared libraries live, and how many
// compute replicas to spread batches over.
type Options struct {
	Backend     string // "ORT" or "GO"
	ORTOptions  *ORTOptions
	NumReplicas int
	Destroy     func() error
}

type ORTOptions struct {
	LibraryPath       *string
	LibraryDir        *string
	IntraOpNumThreads *int
	InterOpNumThreads *int
}

func Defaults() *Options {
	_, libraryDirDefault, libraryPathDefault := defaultLibraryPaths()
	return &Options{
		Backend: "GO",
		ORTOptions: &ORTOptions{
			LibraryDir:  &libraryDirDefault,
			LibraryPath: &libraryPathDefault,
		},
		NumReplicas: 1,
		Destroy: func() error {
			return nil
		},
	}
}

func defaultLibraryPaths() (string, string, string) {
	switch runtime.GOOS {
	case "windows":
		return `onnxruntime.dll`, `.\`, `.\onnxruntime.dll`
	case "darwin":
		return "libonnxruntime.dylib", "/usr/local/lib", "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "libonnxruntime.so", "/usr/lib", "/usr/lib/libonnxruntime.so"
	}
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithBackend selects the inference backend, "ORT" or "GO".
func WithBackend(backend string) WithOption {
	return func(o *Options) error {
		switch backend {
		case "ORT", "GO":
			o.Backend = backend
			return nil
		default:
			return fmt.Errorf("backend %s not recognized, accepted values are: ORT, GO", backend)
		}
	}
}

// WithOnnxLibraryPath (ORT only) sets the directory holding the onnxruntime
// shared library.
func WithOnnxLibraryPath(ortLibraryDir string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithOnnxLibraryPath is only supported for the ORT backend")
		}
		exists, err := fileutil.FileExists(ortLibraryDir)
		if err != nil {
			return fmt.Errorf("failed to access ONNX Runtime library path %q: %w", ortLibraryDir, err)
		}
		if !exists {
			return fmt.Errorf("ONNX Runtime library path %q does not exist", ortLibraryDir)
		}
		libraryName, _, _ := defaultLibraryPaths()
		fullPath := fileutil.PathJoinSafe(ortLibraryDir, libraryName)
		o.ORTOptions.LibraryPath = &fullPath
		o.ORTOptions.LibraryDir = &ortLibraryDir
		return nil
	}
}

// WithIntraOpNumThreads (ORT only) sets the number of threads used within
// graph nodes. Defaults to the number of physical cores when unset.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithIntraOpNumThreads is only supported for the ORT backend")
		}
		o.ORTOptions.IntraOpNumThreads = &numThreads
		return nil
	}
}

// WithInterOpNumThreads (ORT only) sets the number of threads used across
// separate graph nodes.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithInterOpNumThreads is only supported for the ORT backend")
		}
		o.ORTOptions.InterOpNumThreads = &numThreads
		return nil
	}
}

// WithReplicas sets the number of data-parallel compute replicas used during
// fitting. A per-call FitOptions.NumReplicas overrides it; replication
// itself is delegated to the backend.
func WithReplicas(n int) WithOption {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("number of replicas must be at least 1, was %d", n)
		}
		o.NumReplicas = n
		return nil
	}
}
