// Package loader batches parallel id, mask and label rows into rectangular
// tensors for model consumption, with a selectable ordering policy.
package loader

import (
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// Sampling policies.
const (
	SampleRandom      = "random"
	SampleSequential  = "sequential"
	SampleDistributed = "distributed"
)

// ErrInvalidSampleMethod is returned when the sample method is not one of
// the accepted values.
var ErrInvalidSampleMethod = errors.New("invalid sample_method")

// Config describes the rows to batch and how to order them. InputIDs and
// InputMask are required and must be parallel; supplying rows of unequal
// lengths is a caller contract violation and is not checked here. At most one
// of TokenLabels and SequenceLabels may be set.
type Config struct {
	InputIDs  [][]int64
	InputMask [][]int64

	// TokenLabels holds one label id per token position (token level tasks).
	TokenLabels [][]int64
	// SequenceLabels holds one label id per row (sequence level tasks).
	SequenceLabels []int64

	SampleMethod string
	BatchSize    int

	// Rank and WorldSize partition rows across parallel workers for the
	// distributed policy. WorldSize defaults to 1.
	Rank      int
	WorldSize int

	// Seed fixes the shuffle order for the random policy. 0 seeds from the
	// clock.
	Seed uint64
}

// Batch is a fixed size group of rows materialized as rectangular tensors.
// Labels is nil when the loader was built without labels. Batches are
// constructed per pass and discarded after use.
type Batch struct {
	InputIDs  *tensor.Dense
	InputMask *tensor.Dense
	Labels    *tensor.Dense
	Size      int
}

// DataLoader serves batches over one full pass of its rows. Next returns
// io.EOF at the end of a pass; Reset starts the next one, reshuffling when
// the policy is random.
type DataLoader struct {
	cfg    Config
	order  []int
	cursor int
	rng    *rand.Rand
}

// New validates the configuration and prepares the first pass.
func New(cfg Config) (*DataLoader, error) {
	switch cfg.SampleMethod {
	case SampleRandom, SampleSequential, SampleDistributed:
	default:
		return nil, fmt.Errorf("%w: %q, accepted values are: random, sequential, and distributed",
			ErrInvalidSampleMethod, cfg.SampleMethod)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, was %d", cfg.BatchSize)
	}
	if cfg.TokenLabels != nil && cfg.SequenceLabels != nil {
		return nil, fmt.Errorf("at most one of token and sequence labels may be set")
	}
	if cfg.WorldSize <= 0 {
		cfg.WorldSize = 1
	}
	if cfg.SampleMethod == SampleDistributed && (cfg.Rank < 0 || cfg.Rank >= cfg.WorldSize) {
		return nil, fmt.Errorf("rank must be in [0, %d), was %d", cfg.WorldSize, cfg.Rank)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	d := &DataLoader{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
	d.buildOrder()
	d.Reset()
	return d, nil
}

func (d *DataLoader) buildOrder() {
	n := len(d.cfg.InputIDs)
	switch d.cfg.SampleMethod {
	case SampleDistributed:
		// deterministic partition by worker rank
		for i := d.cfg.Rank; i < n; i += d.cfg.WorldSize {
			d.order = append(d.order, i)
		}
	default:
		d.order = make([]int, n)
		for i := range d.order {
			d.order[i] = i
		}
	}
}

// NumRows is the number of rows this loader serves per pass.
func (d *DataLoader) NumRows() int {
	return len(d.order)
}

// NumBatches is the number of batches per pass; the final batch may be
// smaller than the configured batch size.
func (d *DataLoader) NumBatches() int {
	return (len(d.order) + d.cfg.BatchSize - 1) / d.cfg.BatchSize
}

// Reset starts a new pass. The random policy reshuffles the full order.
func (d *DataLoader) Reset() {
	d.cursor = 0
	if d.cfg.SampleMethod == SampleRandom {
		d.rng.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
}

// Next returns the next batch of the pass, or io.EOF when the pass is done.
func (d *DataLoader) Next() (*Batch, error) {
	if d.cursor >= len(d.order) {
		return nil, io.EOF
	}
	end := min(d.cursor+d.cfg.BatchSize, len(d.order))
	rows := d.order[d.cursor:end]
	d.cursor = end

	batchSize := len(rows)
	seqLen := len(d.cfg.InputIDs[rows[0]])

	idsBacking := make([]int64, 0, batchSize*seqLen)
	maskBacking := make([]int64, 0, batchSize*seqLen)
	for _, r := range rows {
		idsBacking = append(idsBacking, d.cfg.InputIDs[r]...)
		maskBacking = append(maskBacking, d.cfg.InputMask[r]...)
	}
	batch := &Batch{
		InputIDs:  tensor.New(tensor.WithShape(batchSize, seqLen), tensor.WithBacking(idsBacking)),
		InputMask: tensor.New(tensor.WithShape(batchSize, seqLen), tensor.WithBacking(maskBacking)),
		Size:      batchSize,
	}

	switch {
	case d.cfg.TokenLabels != nil:
		labelBacking := make([]int64, 0, batchSize*seqLen)
		for _, r := range rows {
			labelBacking = append(labelBacking, d.cfg.TokenLabels[r]...)
		}
		batch.Labels = tensor.New(tensor.WithShape(batchSize, seqLen), tensor.WithBacking(labelBacking))
	case d.cfg.SequenceLabels != nil:
		labelBacking := make([]int64, batchSize)
		for i, r := range rows {
			labelBacking[i] = d.cfg.SequenceLabels[r]
		}
		batch.Labels = tensor.New(tensor.WithShape(batchSize), tensor.WithBacking(labelBacking))
	}
	return batch, nil
}
