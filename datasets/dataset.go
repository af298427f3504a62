// Package datasets provides streaming dataset readers and the download and
// extraction helpers that fetch their source files.
package datasets

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/sentlab/sentlab/util/fileutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TokenClassificationExample is a single annotated sentence: whitespace
// separated text and one label per word.
type TokenClassificationExample struct {
	Data   map[string]any // extra per-example payload, ignored by the dataset
	Text   string         `json:"text"`
	Labels []string       `json:"labels"`
}

// ExamplePreprocessFunc can rewrite an example batch before it is returned,
// for label normalization or filtering.
type ExamplePreprocessFunc func([]TokenClassificationExample) ([]TokenClassificationExample, error)

// TokenClassificationDataset streams annotated sentences from a .jsonl file
// or an in-memory slice in fixed size batches.
type TokenClassificationDataset struct {
	trainingPath     string
	trainingExamples []TokenClassificationExample
	batchSize        int
	batchN           int
	preprocessFunc   ExamplePreprocessFunc

	sourceFile io.ReadCloser
	reader     *bufio.Reader
	verbose    bool
}

func (d *TokenClassificationDataset) SetVerbose(v bool) {
	d.verbose = v
}

func (d *TokenClassificationDataset) Validate() error {
	if len(d.trainingExamples) == 0 {
		if d.trainingPath == "" {
			return fmt.Errorf("training path is required")
		}
		if filepath.Ext(d.trainingPath) != ".jsonl" {
			return fmt.Errorf("training path must be a .jsonl file")
		}
	}
	if d.batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, was %d", d.batchSize)
	}
	return nil
}

// NewTokenClassificationDataset opens a .jsonl file where each line has the
// format {"text":"play soccer","labels":["B-ACT","B-OBJ"]}. The number of
// labels must match the number of whitespace separated words; that contract
// is enforced downstream during encoding, not here.
func NewTokenClassificationDataset(trainingPath string, batchSize int, preprocessFunc ExamplePreprocessFunc) (*TokenClassificationDataset, error) {
	d := &TokenClassificationDataset{
		trainingPath:   trainingPath,
		batchSize:      batchSize,
		preprocessFunc: preprocessFunc,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	sourceReadCloser, err := fileutil.OpenFile(trainingPath)
	if err != nil {
		return nil, err
	}
	d.reader = bufio.NewReader(sourceReadCloser)
	d.sourceFile = sourceReadCloser
	return d, nil
}

// NewInMemoryTokenClassificationDataset serves a fixed slice of examples.
func NewInMemoryTokenClassificationDataset(examples []TokenClassificationExample, batchSize int, preprocessFunc ExamplePreprocessFunc) (*TokenClassificationDataset, error) {
	d := &TokenClassificationDataset{
		trainingExamples: examples,
		batchSize:        batchSize,
		preprocessFunc:   preprocessFunc,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset rewinds the dataset to the start of the training data after an
// epoch.
func (d *TokenClassificationDataset) Reset() error {
	if d.verbose {
		fmt.Printf("completed epoch in %d batches of %d examples, resetting dataset\n", d.batchN, d.batchSize)
	}
	d.batchN = 0
	if len(d.trainingExamples) == 0 {
		if err := d.sourceFile.Close(); err != nil {
			return err
		}
		sourceReadCloser, err := fileutil.OpenFile(d.trainingPath)
		if err != nil {
			return err
		}
		d.sourceFile = sourceReadCloser
		d.reader = bufio.NewReader(sourceReadCloser)
	}
	return nil
}

// YieldRaw returns the next batch of examples, preprocessed when a function
// was supplied, and io.EOF once the pass is exhausted.
func (d *TokenClassificationDataset) YieldRaw() ([]TokenClassificationExample, error) {
	examplesBatch := make([]TokenClassificationExample, 0, d.batchSize)
	if len(d.trainingExamples) > 0 {
		start := d.batchN * d.batchSize
		if start >= len(d.trainingExamples) {
			return examplesBatch, io.EOF
		}
		end := min(start+d.batchSize, len(d.trainingExamples))
		examplesBatch = append(examplesBatch, d.trainingExamples[start:end]...)
	} else {
		for len(examplesBatch) < d.batchSize {
			lineBytes, readErr := fileutil.ReadLine(d.reader)
			if readErr != nil {
				if readErr == io.EOF && len(examplesBatch) > 0 {
					break
				}
				return examplesBatch, readErr
			}
			var lineData TokenClassificationExample
			if err := json.Unmarshal(lineBytes, &lineData); err != nil {
				return nil, fmt.Errorf("failed to parse JSON line: %w", err)
			}
			examplesBatch = append(examplesBatch, lineData)
		}
	}
	d.batchN++
	if d.preprocessFunc != nil {
		var preprocessErr error
		examplesBatch, preprocessErr = d.preprocessFunc(examplesBatch)
		if preprocessErr != nil {
			return nil, preprocessErr
		}
	}
	return examplesBatch, nil
}

// Words splits an example's text the same way the encoder does.
func (e *TokenClassificationExample) Words() []string {
	return strings.Fields(e.Text)
}

func (d *TokenClassificationDataset) Close() error {
	if d.sourceFile != nil {
		return d.sourceFile.Close()
	}
	return nil
}
