package classifiers

import (
	"context"
	"fmt"
	"io"

	"github.com/phuslu/log"

	"github.com/sentlab/sentlab/backends"
	"github.com/sentlab/sentlab/loader"
	"github.com/sentlab/sentlab/optim"
)

// FitOptions tunes the fine tuning loop. Zero values fall back to the
// package defaults.
type FitOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64

	// WarmupShare, when positive, sizes a linear warmup and decay schedule
	// over the full run. 0 keeps the learning rate constant.
	WarmupShare float64

	WeightDecay float64

	// MaxGradNorm bounds the global gradient norm during sequence level
	// fitting. 0 selects the default bound, negative disables clipping.
	// Token level fitting never clips.
	MaxGradNorm float64

	// NumReplicas spreads the forward and backward pass over parallel compute
	// replicas. 0 falls back to the classifier's runtime options, 1 means a
	// single replica.
	NumReplicas int

	// LoggingSteps is the step interval for loss logging; SaveSteps, when
	// positive, is the step interval for checkpoints under CheckpointDir
	// during sequence level fitting. Token level fitting never checkpoints.
	LoggingSteps  int
	SaveSteps     int
	CheckpointDir string

	Seed    uint64
	Verbose bool
}

func (o *FitOptions) defaults() {
	if o.Epochs <= 0 {
		o.Epochs = DefaultEpochs
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.LearningRate <= 0 {
		o.LearningRate = optim.DefaultLearningRate
	}
	if o.WeightDecay <= 0 {
		o.WeightDecay = optim.DefaultWeightDecay
	}
	if o.LoggingSteps <= 0 {
		o.LoggingSteps = DefaultLoggingSteps
	}
}

// PredictOptions tunes a prediction pass.
type PredictOptions struct {
	BatchSize int
	// Probabilities additionally returns the softmax distribution over labels.
	Probabilities bool
	Verbose       bool
}

func (o *PredictOptions) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
}

// fitFeatures gates the loop steps that apply to only one classifier kind.
type fitFeatures struct {
	// GradClipNorm bounds the global gradient norm per step, 0 disables
	// clipping.
	GradClipNorm float64
	Checkpoints  bool
}

// sequenceFitFeatures resolves the gradient clipping bound for sequence
// level fitting and enables periodic checkpointing.
func sequenceFitFeatures(o FitOptions) fitFeatures {
	norm := o.MaxGradNorm
	if norm == 0 {
		norm = DefaultMaxGradNorm
	}
	if norm < 0 {
		norm = 0
	}
	return fitFeatures{GradClipNorm: norm, Checkpoints: true}
}

// tokenFitFeatures disables clipping and checkpointing, which only apply to
// the sequence variant.
func tokenFitFeatures() fitFeatures {
	return fitFeatures{}
}

// runFit drives the shared fine tuning loop: one optimizer, an optional
// warmup linear schedule sized to the full run, and periodic logging.
// Gradient clipping and checkpointing run only when feats enables them.
func runFit(ctx context.Context, model backends.TrainableModel, dl *loader.DataLoader, o FitOptions, feats fitFeatures) error {
	o.defaults()

	if o.NumReplicas > 1 {
		if err := model.Replicate(o.NumReplicas); err != nil {
			return fmt.Errorf("replicating model: %w", err)
		}
	}
	model.Train(true)
	defer model.Train(false)

	params := model.Parameters()
	totalSteps := dl.NumBatches() * o.Epochs
	var schedule *optim.Schedule
	if o.WarmupShare > 0 {
		var err error
		schedule, err = optim.NewWarmupLinear(totalSteps, o.WarmupShare)
		if err != nil {
			return err
		}
	}
	optimizer := optim.NewAdamW(optim.GroupParameters(params, o.WeightDecay), o.LearningRate, schedule)

	step := 0
	for epoch := 0; epoch < o.Epochs; epoch++ {
		var epochLoss float64
		var epochBatches int
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := dl.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			_, loss, err := model.Forward(batch.InputIDs, batch.InputMask, batch.Labels)
			if err != nil {
				return fmt.Errorf("forward pass at step %d: %w", step, err)
			}
			if err := model.Backward(); err != nil {
				return fmt.Errorf("backward pass at step %d: %w", step, err)
			}
			if feats.GradClipNorm > 0 {
				if _, err := optim.ClipGradientNorm(params, feats.GradClipNorm); err != nil {
					return err
				}
			}
			if err := optimizer.Step(); err != nil {
				return err
			}
			optimizer.ZeroGradients()

			step++
			epochLoss += loss
			epochBatches++
			if o.Verbose && step%o.LoggingSteps == 0 {
				log.Info().
					Int("epoch", epoch+1).
					Int("step", step).
					Int("totalSteps", totalSteps).
					Float64("loss", loss).
					Msg("training")
			}
			if feats.Checkpoints && o.SaveSteps > 0 && o.CheckpointDir != "" && step%o.SaveSteps == 0 {
				if err := model.Save(o.CheckpointDir); err != nil {
					return fmt.Errorf("saving checkpoint at step %d: %w", step, err)
				}
			}
		}
		if o.Verbose && epochBatches > 0 {
			log.Info().
				Int("epoch", epoch+1).
				Float64("meanLoss", epochLoss/float64(epochBatches)).
				Msg("epoch done")
		}
		dl.Reset()
	}
	return nil
}
