package classifiers

import (
	"context"
	"fmt"
	"io"

	"github.com/phuslu/log"
	"gorgonia.org/tensor"

	"github.com/sentlab/sentlab/backends"
	"github.com/sentlab/sentlab/loader"
	"github.com/sentlab/sentlab/util/vectorutil"
)

// TokenClassifier assigns one label per token position, for tasks like named
// entity recognition.
type TokenClassifier struct {
	Config Config
	Model  *backends.Model
}

// NewTokenClassifier loads the model named in cfg and wraps it for token
// level classification.
func NewTokenClassifier(cfg Config) (*TokenClassifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	model, err := loadModel(cfg)
	if err != nil {
		return nil, err
	}
	return &TokenClassifier{Config: cfg, Model: model}, nil
}

// Destroy releases the underlying model session.
func (c *TokenClassifier) Destroy() error {
	return c.Model.Destroy()
}

// Fit fine tunes the wrapped model on pre-encoded rows. tokenIDs, inputMask
// and labels are parallel, each row already padded to a common length.
func (c *TokenClassifier) Fit(ctx context.Context, tokenIDs, inputMask, labels [][]int64, opts FitOptions) error {
	model, err := trainable(c.Model)
	if err != nil {
		return err
	}
	if len(labels) != len(tokenIDs) {
		return fmt.Errorf("got %d label rows for %d input rows", len(labels), len(tokenIDs))
	}
	opts.defaults()
	if opts.NumReplicas == 0 && c.Config.Options != nil {
		opts.NumReplicas = c.Config.Options.NumReplicas
	}
	dl, err := loader.New(loader.Config{
		InputIDs:     tokenIDs,
		InputMask:    inputMask,
		TokenLabels:  labels,
		SampleMethod: loader.SampleRandom,
		BatchSize:    opts.BatchSize,
		Seed:         opts.Seed,
	})
	if err != nil {
		return err
	}
	return runFit(ctx, model, dl, opts, tokenFitFeatures())
}

// Predict labels every token position of the pre-encoded rows. When labels
// is non-nil the mean cross entropy over unmasked positions is computed and
// logged as the evaluation loss. Row order follows the input.
func (c *TokenClassifier) Predict(ctx context.Context, tokenIDs, inputMask, labels [][]int64, opts PredictOptions) ([][]int64, error) {
	opts.defaults()
	cfg := loader.Config{
		InputIDs:     tokenIDs,
		InputMask:    inputMask,
		SampleMethod: loader.SampleSequential,
		BatchSize:    opts.BatchSize,
	}
	if labels != nil {
		cfg.TokenLabels = labels
	}
	dl, err := loader.New(cfg)
	if err != nil {
		return nil, err
	}

	predictions := make([][]int64, 0, len(tokenIDs))
	var evalLoss float64
	var evalPositions int
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
		batchPreds, loss, positions, err := c.decodeBatch(batch, logits)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, batchPreds...)
		evalLoss += loss
		evalPositions += positions
	}
	if labels != nil && evalPositions > 0 {
		log.Info().
			Float64("evalLoss", evalLoss/float64(evalPositions)).
			Int("positions", evalPositions).
			Msg("token classification evaluation")
	}
	return predictions, nil
}

// decodeBatch turns (batch, sequence, labels) logits into per-token argmax
// labels and, when the batch carries labels, the summed masked cross entropy.
func (c *TokenClassifier) decodeBatch(batch *loader.Batch, logits *tensor.Dense) ([][]int64, float64, int, error) {
	shape := logits.Shape()
	if len(shape) != 3 {
		return nil, 0, 0, fmt.Errorf("expected (batch, sequence, labels) logits, got shape %v", shape)
	}
	seqLen, numLabels := shape[1], shape[2]
	data, ok := logits.Data().([]float32)
	if !ok {
		return nil, 0, 0, fmt.Errorf("logits are not float32")
	}
	maskData := batch.InputMask.Data().([]int64)
	var labelData []int64
	if batch.Labels != nil {
		labelData = batch.Labels.Data().([]int64)
	}

	preds := make([][]int64, batch.Size)
	var loss float64
	var positions int
	for b := 0; b < batch.Size; b++ {
		row := make([]int64, seqLen)
		for t := 0; t < seqLen; t++ {
			flat := b*seqLen + t
			tokenLogits := data[flat*numLabels : (flat+1)*numLabels]
			idx, _, err := vectorutil.ArgMax(tokenLogits)
			if err != nil {
				return nil, 0, 0, err
			}
			row[t] = int64(idx)
			if labelData != nil && maskData[flat] == 1 {
				label := labelData[flat]
				if label < 0 || int(label) >= numLabels {
					return nil, 0, 0, fmt.Errorf("label id %d out of range for %d labels", label, numLabels)
				}
				loss += vectorutil.LogSumExp(tokenLogits) - float64(tokenLogits[label])
				positions++
			}
		}
		preds[b] = row
	}
	return preds, loss, positions, nil
}
