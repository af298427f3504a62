// Package senteval adapts a caller-supplied sentence embedding function to an
// external transfer-task evaluation harness and renders its results.
package senteval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// classifyingTasks are the transfer tasks that train a downstream classifier
// on top of the embeddings. Selecting any of them requires classifier
// hyperparameters in the evaluation bundle.
var classifyingTasks = map[string]bool{
	"MR":             true,
	"CR":             true,
	"SUBJ":           true,
	"MPQA":           true,
	"SST2":           true,
	"SST5":           true,
	"TREC":           true,
	"SICKEntailment": true,
	"SNLI":           true,
	"MRPC":           true,
}

// ClassifierParams are the downstream classifier hyperparameters for
// classifying transfer tasks.
type ClassifierParams struct {
	HiddenSize int    `json:"nhid"`
	Optim      string `json:"optim"`
	BatchSize  int    `json:"batch_size"`
	Tenacity   int    `json:"tenacity"`
	EpochSize  int    `json:"epoch_size"`
}

// Params is the evaluation parameter bundle handed to the harness.
// Classifier is nil unless at least one selected task needs one.
type Params struct {
	TaskPath   string            `json:"task_path"`
	KFold      int               `json:"kfold"`
	Seed       int               `json:"seed"`
	Classifier *ClassifierParams `json:"classifier,omitempty"`
}

// BatcherFunc embeds one batch of pre-tokenized sentences, returning one
// vector per sentence.
type BatcherFunc func(params *Params, batch [][]string) ([][]float32, error)

// PrepareFunc lets the embedding model see the full task corpus before
// batching starts, for vocabulary construction and similar setup.
type PrepareFunc func(params *Params, samples [][]string) error

// Results is the nested per-task result mapping the harness returns. A task
// either reports flat metric values or an "all" aggregate whose entries
// carry a "mean" sub-value.
type Results map[string]map[string]any

// Engine is the external evaluation harness.
type Engine interface {
	Eval(ctx context.Context, params *Params, tasks []string, batcher BatcherFunc, prepare PrepareFunc) (Results, error)
}

// Config describes one evaluation run.
type Config struct {
	// Engine runs the transfer tasks.
	Engine Engine
	// TaskPath is the directory holding the per-task datasets.
	TaskPath string
	// Tasks is the transfer-task selection.
	Tasks []string

	KFold int
	Seed  int
	// Classifier overrides the default downstream classifier
	// hyperparameters. Only consulted when a selected task needs one.
	Classifier *ClassifierParams
}

// Runner invokes the harness with a fixed parameter bundle.
type Runner struct {
	engine Engine
	params *Params
	tasks  []string
}

// NewRunner validates cfg and assembles the parameter bundle. Classifier
// hyperparameters are included only when a selected task trains one.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Engine == nil {
		return nil, errors.New("an evaluation engine is required")
	}
	if cfg.TaskPath == "" {
		return nil, errors.New("a task data path is required")
	}
	if len(cfg.Tasks) == 0 {
		return nil, errors.New("at least one transfer task is required")
	}
	params := &Params{
		TaskPath: cfg.TaskPath,
		KFold:    cfg.KFold,
		Seed:     cfg.Seed,
	}
	if params.KFold == 0 {
		params.KFold = 10
	}
	if needsClassifier(cfg.Tasks) {
		params.Classifier = cfg.Classifier
		if params.Classifier == nil {
			params.Classifier = &ClassifierParams{
				Optim:     "adam",
				BatchSize: 64,
				Tenacity:  5,
				EpochSize: 4,
			}
		}
	}
	return &Runner{engine: cfg.Engine, params: params, tasks: cfg.Tasks}, nil
}

func needsClassifier(tasks []string) bool {
	for _, t := range tasks {
		if classifyingTasks[t] {
			return true
		}
	}
	return false
}

// Params exposes the assembled parameter bundle.
func (r *Runner) Params() *Params {
	return r.params
}

// Run evaluates the embedding function behind batcher on the configured
// tasks and returns the nested per-task results.
func (r *Runner) Run(ctx context.Context, batcher BatcherFunc, prepare PrepareFunc) (Results, error) {
	if batcher == nil {
		return nil, errors.New("a batcher function is required")
	}
	return r.engine.Eval(ctx, r.params, r.tasks, batcher, prepare)
}

// MeanTable flattens the nested results into a rendered table with one row
// per task and one column per selected metric, values rounded to decimals.
// Tasks reporting an "all" aggregate contribute its per-metric mean; flat
// tasks contribute the metric value directly.
func MeanTable(results Results, metrics []string, decimals int) (string, error) {
	tasks := make([]string, 0, len(results))
	for task := range results {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(append([]string{"TASK"}, metrics...)...)
	for _, task := range tasks {
		row := []string{task}
		for _, metric := range metrics {
			value, err := metricValue(results[task], metric)
			if err != nil {
				return "", fmt.Errorf("task %s: %w", task, err)
			}
			row = append(row, formatRounded(value, decimals))
		}
		t = t.Row(row...)
	}
	return t.Render(), nil
}

func metricValue(taskResults map[string]any, metric string) (float64, error) {
	if all, found := taskResults["all"]; found {
		aggregate, ok := all.(map[string]any)
		if !ok {
			return 0, fmt.Errorf(`the "all" aggregate has unexpected type %T`, all)
		}
		entry, found := aggregate[metric]
		if !found {
			return 0, fmt.Errorf("metric %s missing from aggregate", metric)
		}
		stats, ok := entry.(map[string]any)
		if !ok {
			return toFloat(entry, metric)
		}
		return toFloat(stats["mean"], metric)
	}
	entry, found := taskResults[metric]
	if !found {
		return 0, fmt.Errorf("metric %s missing", metric)
	}
	return toFloat(entry, metric)
}

func toFloat(v any, metric string) (float64, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int:
		return float64(value), nil
	default:
		return 0, fmt.Errorf("metric %s has non numeric value %v", metric, v)
	}
}

func formatRounded(v float64, decimals int) string {
	scale := math.Pow10(decimals)
	return fmt.Sprintf("%.*f", decimals, math.Round(v*scale)/scale)
}
