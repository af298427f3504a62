package classifiers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/sentlab/sentlab/backends"
	"github.com/sentlab/sentlab/loader"
	"github.com/sentlab/sentlab/options"
)

// fakeTrainable implements backends.TrainableModel with a single weight and
// a recorded call log, enough to drive the fit loop end to end.
type fakeTrainable struct {
	param        *backends.Parameter
	training     bool
	replicas     int
	forwardCalls int
	backwardOK   bool
	savedDirs    []string
	logitsShape  []int

	// valueLog snapshots the first weight at every forward call, before the
	// optimizer step for that batch runs.
	valueLog []float32
}

func newFakeTrainable(logitsShape ...int) *fakeTrainable {
	return &fakeTrainable{
		param: &backends.Parameter{
			Name:  "classifier.weight",
			Value: tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{1, 1})),
			Grad:  tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{0, 0})),
		},
		logitsShape: logitsShape,
	}
}

func (f *fakeTrainable) Train(on bool) { f.training = on }

func (f *fakeTrainable) Forward(ids, mask, labels *tensor.Dense) (*tensor.Dense, float64, error) {
	f.forwardCalls++
	f.valueLog = append(f.valueLog, f.param.Value.Data().([]float32)[0])
	grad := f.param.Grad.Data().([]float32)
	for i := range grad {
		grad[i] = 0.1
	}
	shape := f.logitsShape
	if shape == nil {
		shape = []int{ids.Shape()[0], 2}
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	logits := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, size)))
	return logits, 0.5, nil
}

func (f *fakeTrainable) Backward() error {
	f.backwardOK = true
	return nil
}

func (f *fakeTrainable) Parameters() []*backends.Parameter {
	return []*backends.Parameter{f.param}
}

func (f *fakeTrainable) Replicate(n int) error {
	f.replicas = n
	return nil
}

func (f *fakeTrainable) Save(dir string) error {
	f.savedDirs = append(f.savedDirs, dir)
	return nil
}

// fakeLoader hands back a pre-built model handle.
type fakeLoader struct {
	model *backends.Model
}

func (f fakeLoader) Load(string, int, string) (*backends.Model, error) {
	return f.model, nil
}

func fakeModel(trainable backends.TrainableModel) *backends.Model {
	return &backends.Model{
		Path:      "fake",
		Runtime:   "GO",
		Trainable: trainable,
		ID2Label:  map[int]string{0: "O", 1: "B-ACT"},
		Label2ID:  map[string]int{"O": 0, "B-ACT": 1},
		Destroy: func() error {
			return nil
		},
	}
}

func TestTooFewLabels(t *testing.T) {
	_, err := NewTokenClassifier(Config{Model: "some-model", NumLabels: 1})
	require.ErrorIs(t, err, ErrTooFewLabels)

	_, err = NewSequenceClassifier(Config{Model: "some-model", NumLabels: 1})
	require.ErrorIs(t, err, ErrTooFewLabels)
}

func TestModelNameRequired(t *testing.T) {
	_, err := NewSequenceClassifier(Config{NumLabels: 2})
	assert.ErrorContains(t, err, "model name is required")
}

func TestMissingModel(t *testing.T) {
	_, err := NewSequenceClassifier(Config{
		Model:     "no/such-model",
		NumLabels: 2,
		CacheDir:  t.TempDir(),
	})
	assert.ErrorContains(t, err, "not found locally")
}

func TestSequenceClassifierFit(t *testing.T) {
	fake := newFakeTrainable()
	classifier, err := NewSequenceClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: fakeModel(fake)},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, classifier.Destroy())
	})

	ids := [][]int64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	mask := [][]int64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	labels := []int64{0, 1, 0, 1}

	err = classifier.Fit(context.Background(), ids, mask, labels, FitOptions{
		Epochs:    2,
		BatchSize: 2,
		Seed:      7,
	})
	require.NoError(t, err)
	// 2 epochs of 2 batches each
	assert.Equal(t, 4, fake.forwardCalls)
	assert.True(t, fake.backwardOK)
	// training mode is switched off again after fitting
	assert.False(t, fake.training)
}

func TestSequenceClassifierFitReplicatesAndCheckpoints(t *testing.T) {
	fake := newFakeTrainable()
	classifier, err := NewSequenceClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: fakeModel(fake)},
	})
	require.NoError(t, err)

	ids := [][]int64{{1}, {2}, {3}, {4}}
	mask := [][]int64{{1}, {1}, {1}, {1}}
	labels := []int64{0, 1, 0, 1}

	checkpointDir := t.TempDir()
	err = classifier.Fit(context.Background(), ids, mask, labels, FitOptions{
		Epochs:        1,
		BatchSize:     2,
		NumReplicas:   2,
		SaveSteps:     1,
		CheckpointDir: checkpointDir,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.replicas)
	assert.Equal(t, []string{checkpointDir, checkpointDir}, fake.savedDirs)
}

func TestFitLabelCountMismatch(t *testing.T) {
	fake := newFakeTrainable()
	classifier, err := NewSequenceClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: fakeModel(fake)},
	})
	require.NoError(t, err)

	err = classifier.Fit(context.Background(), [][]int64{{1}, {2}}, [][]int64{{1}, {1}}, []int64{0}, FitOptions{})
	assert.ErrorContains(t, err, "1 labels for 2 input rows")
}

func TestFitRequiresTrainableBackend(t *testing.T) {
	model := fakeModel(nil)
	classifier, err := NewTokenClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: model},
	})
	require.NoError(t, err)

	err = classifier.Fit(context.Background(), [][]int64{{1}}, [][]int64{{1}}, [][]int64{{0}}, FitOptions{})
	assert.ErrorContains(t, err, "inference only")
}

func TestTokenClassifierFit(t *testing.T) {
	fake := newFakeTrainable()
	classifier, err := NewTokenClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: fakeModel(fake)},
	})
	require.NoError(t, err)

	ids := [][]int64{{1, 2, 0}, {3, 4, 5}}
	mask := [][]int64{{1, 1, 0}, {1, 1, 1}}
	labels := [][]int64{{1, 0, 0}, {0, 1, 0}}

	err = classifier.Fit(context.Background(), ids, mask, labels, FitOptions{
		Epochs:    1,
		BatchSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.forwardCalls)
}

func TestTokenDecodeBatch(t *testing.T) {
	classifier := &TokenClassifier{}
	dl, err := loader.New(loader.Config{
		InputIDs:     [][]int64{{7, 8, 0}, {9, 10, 11}},
		InputMask:    [][]int64{{1, 1, 0}, {1, 1, 1}},
		TokenLabels:  [][]int64{{1, 0, 0}, {0, 1, 0}},
		SampleMethod: loader.SampleSequential,
		BatchSize:    2,
	})
	require.NoError(t, err)
	batch, err := dl.Next()
	require.NoError(t, err)

	// logits shape (2, 3, 2): position t of row b predicts class t%2 of row b
	logits := tensor.New(tensor.WithShape(2, 3, 2), tensor.WithBacking([]float32{
		0, 1, 1, 0, 0, 1,
		1, 0, 0, 1, 1, 0,
	}))
	preds, loss, positions, err := classifier.decodeBatch(batch, logits)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 0, 1}, {0, 1, 0}}, preds)
	// loss is accumulated only over the 5 unmasked positions
	assert.Equal(t, 5, positions)
	assert.Greater(t, loss, 0.0)
}

func TestTokenDecodeBatchRejectsBadShape(t *testing.T) {
	classifier := &TokenClassifier{}
	dl, err := loader.New(loader.Config{
		InputIDs:     [][]int64{{1}},
		InputMask:    [][]int64{{1}},
		SampleMethod: loader.SampleSequential,
		BatchSize:    1,
	})
	require.NoError(t, err)
	batch, err := dl.Next()
	require.NoError(t, err)

	logits := tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float32{0, 1}))
	_, _, _, err = classifier.decodeBatch(batch, logits)
	assert.ErrorContains(t, err, "expected (batch, sequence, labels) logits")
}

// stepDeltas derives the per-step weight movement from the forward snapshots.
func stepDeltas(valueLog []float32) []float64 {
	deltas := make([]float64, 0, len(valueLog)-1)
	for i := 1; i < len(valueLog); i++ {
		deltas = append(deltas, float64(valueLog[i-1])-float64(valueLog[i]))
	}
	return deltas
}

func fitTenSingleRowBatches(t *testing.T, opts FitOptions) *fakeTrainable {
	t.Helper()
	fake := newFakeTrainable()
	classifier, err := NewSequenceClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: fakeModel(fake)},
	})
	require.NoError(t, err)

	ids := make([][]int64, 10)
	mask := make([][]int64, 10)
	labels := make([]int64, 10)
	for i := range ids {
		ids[i] = []int64{int64(i)}
		mask[i] = []int64{1}
		labels[i] = int64(i % 2)
	}
	opts.BatchSize = 1
	opts.Seed = 3
	require.NoError(t, classifier.Fit(context.Background(), ids, mask, labels, opts))
	return fake
}

func TestFitLearningRateConstantWithoutWarmup(t *testing.T) {
	fake := fitTenSingleRowBatches(t, FitOptions{})

	// the gradient is constant, so every optimizer step must move the weight
	// by the same amount when no warmup schedule was requested
	deltas := stepDeltas(fake.valueLog)
	require.Len(t, deltas, 9)
	for _, delta := range deltas {
		assert.InEpsilon(t, deltas[0], delta, 0.02)
	}
}

func TestFitWarmupScheduleRampsWhenRequested(t *testing.T) {
	fake := fitTenSingleRowBatches(t, FitOptions{WarmupShare: 0.5})

	deltas := stepDeltas(fake.valueLog)
	require.Len(t, deltas, 9)
	maxDelta := deltas[0]
	for _, delta := range deltas {
		maxDelta = max(maxDelta, delta)
	}
	// the first step runs at a fraction of the peak learning rate
	assert.Greater(t, maxDelta, 3*deltas[0])
}

func TestTokenClassifierFitSkipsCheckpoints(t *testing.T) {
	fake := newFakeTrainable(2, 3, 2)
	classifier, err := NewTokenClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: fakeModel(fake)},
	})
	require.NoError(t, err)

	ids := [][]int64{{1, 2, 0}, {3, 4, 5}}
	mask := [][]int64{{1, 1, 0}, {1, 1, 1}}
	labels := [][]int64{{1, 0, 0}, {0, 1, 0}}

	err = classifier.Fit(context.Background(), ids, mask, labels, FitOptions{
		BatchSize:     2,
		SaveSteps:     1,
		CheckpointDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, fake.forwardCalls)
	// periodic checkpointing applies to the sequence variant only
	assert.Empty(t, fake.savedDirs)
}

func TestSequenceFitFeatures(t *testing.T) {
	assert.Equal(t, DefaultMaxGradNorm, sequenceFitFeatures(FitOptions{}).GradClipNorm)
	assert.Equal(t, 0.5, sequenceFitFeatures(FitOptions{MaxGradNorm: 0.5}).GradClipNorm)
	// a negative bound switches clipping off entirely
	assert.Zero(t, sequenceFitFeatures(FitOptions{MaxGradNorm: -1}).GradClipNorm)
	assert.True(t, sequenceFitFeatures(FitOptions{}).Checkpoints)

	assert.Zero(t, tokenFitFeatures().GradClipNorm)
	assert.False(t, tokenFitFeatures().Checkpoints)
}

func TestFitUsesRuntimeReplicaOption(t *testing.T) {
	fake := newFakeTrainable()
	runtimeOptions := options.Defaults()
	require.NoError(t, options.WithReplicas(2)(runtimeOptions))
	classifier, err := NewSequenceClassifier(Config{
		Model:     "fake",
		NumLabels: 2,
		Loader:    fakeLoader{model: fakeModel(fake)},
		Options:   runtimeOptions,
	})
	require.NoError(t, err)

	ids := [][]int64{{1}, {2}}
	mask := [][]int64{{1}, {1}}
	labels := []int64{0, 1}

	require.NoError(t, classifier.Fit(context.Background(), ids, mask, labels, FitOptions{BatchSize: 2}))
	assert.Equal(t, 2, fake.replicas)

	// an explicit per-call value still wins over the runtime options
	require.NoError(t, classifier.Fit(context.Background(), ids, mask, labels, FitOptions{BatchSize: 2, NumReplicas: 3}))
	assert.Equal(t, 3, fake.replicas)
}
