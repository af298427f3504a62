// Package classifiers wraps transformer encoder models behind fit and predict
// loops for sequence level and token level classification.
package classifiers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sentlab/sentlab/backends"
	"github.com/sentlab/sentlab/options"
	"github.com/sentlab/sentlab/util/fileutil"
)

// Defaults for the fit and predict loops.
const (
	DefaultEpochs       = 1
	DefaultBatchSize    = 32
	DefaultMaxGradNorm  = 1.0
	DefaultLoggingSteps = 50
)

// ErrTooFewLabels is returned when a classifier is configured with fewer
// than two labels.
var ErrTooFewLabels = errors.New("number of labels should be at least 2")

// Config identifies the model a classifier wraps. Model is either a local
// directory or a hub name resolved under CacheDir.
type Config struct {
	Model     string
	NumLabels int
	CacheDir  string

	// Loader overrides how the model handle is built. Nil uses the serialized
	// graph loader.
	Loader ModelLoader

	// Options configures the runtime backend for the default loader.
	Options *options.Options
}

func (c *Config) validate() error {
	if c.NumLabels < 2 {
		return fmt.Errorf("%w, was %d", ErrTooFewLabels, c.NumLabels)
	}
	if c.Model == "" {
		return errors.New("model name is required")
	}
	return nil
}

// ModelLoader builds a model handle for a classifier. Implementations decide
// where the weights come from and which runtime hosts them.
type ModelLoader interface {
	Load(model string, numLabels int, cacheDir string) (*backends.Model, error)
}

// graphLoader is the default ModelLoader. It resolves the model to a local
// directory and loads its serialized graph.
type graphLoader struct {
	opts *options.Options
}

func (l graphLoader) Load(model string, numLabels int, cacheDir string) (*backends.Model, error) {
	path := model
	exists, err := fileutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		path = fileutil.PathJoinSafe(cacheDir, strings.ReplaceAll(model, "/", "_"))
		exists, err = fileutil.FileExists(path)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("model %s not found locally or under %s, download it first", model, cacheDir)
		}
	}
	opts := l.opts
	if opts == nil {
		opts = options.Defaults()
	}
	loaded, err := backends.LoadModel(path, "", opts)
	if err != nil {
		return nil, err
	}
	if loaded.NumLabels() > 0 && loaded.NumLabels() != numLabels {
		return nil, fmt.Errorf("model %s has %d labels, classifier expects %d",
			model, loaded.NumLabels(), numLabels)
	}
	return loaded, nil
}

func loadModel(cfg Config) (*backends.Model, error) {
	loader := cfg.Loader
	if loader == nil {
		loader = graphLoader{opts: cfg.Options}
	}
	return loader.Load(cfg.Model, cfg.NumLabels, cfg.CacheDir)
}

// trainable extracts the training capability of a model handle or explains
// why it is absent.
func trainable(m *backends.Model) (backends.TrainableModel, error) {
	if m.Trainable == nil {
		return nil, fmt.Errorf("the %s backend is inference only, fitting needs a trainable backend", m.Runtime)
	}
	return m.Trainable, nil
}
