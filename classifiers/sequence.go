package classifiers

import (
	"context"
	"fmt"
	"io"

	"github.com/sentlab/sentlab/backends"
	"github.com/sentlab/sentlab/loader"
	"github.com/sentlab/sentlab/util/vectorutil"
)

// SequenceClassifier assigns one label per input sequence, for tasks like
// sentiment analysis or entailment.
type SequenceClassifier struct {
	Config Config
	Model  *backends.Model
}

// Predictions holds the output of a sequence level prediction pass.
// Probabilities is nil unless requested.
type Predictions struct {
	Classes       []int64
	Probabilities [][]float32
}

// NewSequenceClassifier loads the model named in cfg and wraps it for
// sequence level classification.
func NewSequenceClassifier(cfg Config) (*SequenceClassifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	model, err := loadModel(cfg)
	if err != nil {
		return nil, err
	}
	return &SequenceClassifier{Config: cfg, Model: model}, nil
}

// Destroy releases the underlying model session.
func (c *SequenceClassifier) Destroy() error {
	return c.Model.Destroy()
}

// Fit fine tunes the wrapped model on pre-encoded rows with one label per
// row.
func (c *SequenceClassifier) Fit(ctx context.Context, tokenIDs, inputMask [][]int64, labels []int64, opts FitOptions) error {
	model, err := trainable(c.Model)
	if err != nil {
		return err
	}
	if len(labels) != len(tokenIDs) {
		return fmt.Errorf("got %d labels for %d input rows", len(labels), len(tokenIDs))
	}
	opts.defaults()
	if opts.NumReplicas == 0 && c.Config.Options != nil {
		opts.NumReplicas = c.Config.Options.NumReplicas
	}
	dl, err := loader.New(loader.Config{
		InputIDs:       tokenIDs,
		InputMask:      inputMask,
		SequenceLabels: labels,
		SampleMethod:   loader.SampleRandom,
		BatchSize:      opts.BatchSize,
		Seed:           opts.Seed,
	})
	if err != nil {
		return err
	}
	return runFit(ctx, model, dl, opts, sequenceFitFeatures(opts))
}

// Predict labels every row, preserving input order. Softmax distributions
// are included when opts.Probabilities is set.
func (c *SequenceClassifier) Predict(ctx context.Context, tokenIDs, inputMask [][]int64, opts PredictOptions) (*Predictions, error) {
	opts.defaults()
	dl, err := loader.New(loader.Config{
		InputIDs:     tokenIDs,
		InputMask:    inputMask,
		SampleMethod: loader.SampleSequential,
		BatchSize:    opts.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	out := &Predictions{Classes: make([]int64, 0, len(tokenIDs))}
	if opts.Probabilities {
		out.Probabilities = make([][]float32, 0, len(tokenIDs))
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := dl.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		logits, err := c.Model.Forward(batch.InputIDs, batch.InputMask)
		if err != nil {
			return nil, err
		}
		shape := logits.Shape()
		if len(shape) != 2 || shape[0] != batch.Size {
			return nil, fmt.Errorf("expected (batch, labels) logits, got shape %v", shape)
		}
		numLabels := shape[1]
		data, ok := logits.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("logits are not float32")
		}
		for b := 0; b < batch.Size; b++ {
			rowLogits := data[b*numLabels : (b+1)*numLabels]
			idx, _, err := vectorutil.ArgMax(rowLogits)
			if err != nil {
				return nil, err
			}
			out.Classes = append(out.Classes, int64(idx))
			if opts.Probabilities {
				out.Probabilities = append(out.Probabilities, vectorutil.SoftMax(rowLogits))
			}
		}
	}
	return out, nil
}
