// Package encode turns raw text, and optionally per token labels, into the
// fixed length id sequences, attention masks and trailing subword markers
// that classifier models consume.
package encode

import (
	"fmt"
	"strings"

	"github.com/phuslu/log"

	"github.com/sentlab/sentlab/backends"
	"github.com/sentlab/sentlab/util/fileutil"
)

// MaxSequenceLength is the hard ceiling on sequence length supported by the
// wrapped models. Longer requests are clamped, not rejected.
const MaxSequenceLength = 512

// PadID is the id used for padding positions.
const PadID = 0

// Encoder wraps a pretrained subword tokenizer.
type Encoder struct {
	Tokenizer *backends.Tokenizer
}

type encoderOptions struct {
	runtime   string
	maxTokens int
}

// EncoderOption configures an Encoder.
type EncoderOption func(o *encoderOptions)

// WithRustTokenizer selects the rust tokenizer bindings instead of the pure
// Go implementation.
func WithRustTokenizer() EncoderOption {
	return func(o *encoderOptions) {
		o.runtime = "ORT"
	}
}

// NewEncoder loads the tokenizer for model. When model is not a path on disk
// it is resolved against cacheDir the way downloaded models are laid out
// (org/name becomes org_name). The cache directory is explicit configuration:
// there is no process wide default.
func NewEncoder(model string, cacheDir string, opts ...EncoderOption) (*Encoder, error) {
	o := &encoderOptions{runtime: "GO", maxTokens: MaxSequenceLength}
	for _, opt := range opts {
		opt(o)
	}
	path := model
	exists, err := fileutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		path = fileutil.PathJoinSafe(cacheDir, strings.ReplaceAll(model, "/", "_"))
	}
	tokenizer, err := backends.LoadTokenizerFromPath(path, o.runtime, o.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer for %s: %w", model, err)
	}
	return &Encoder{Tokenizer: tokenizer}, nil
}

// Destroy releases tokenizer resources.
func (e *Encoder) Destroy() error {
	return e.Tokenizer.Destroy()
}

// Tokenize splits each input into its subword token strings, without
// sentence markers.
func (e *Encoder) Tokenize(texts []string) ([][]string, error) {
	tokens := make([][]string, len(texts))
	for i, text := range texts {
		enc, err := e.Tokenizer.Encode(text, false)
		if err != nil {
			return nil, err
		}
		tokens[i] = enc.Tokens
	}
	return tokens, nil
}

// SequenceClassificationInput is preprocessed input for a sequence level
// classifier: fixed length id rows and their attention masks.
type SequenceClassificationInput struct {
	InputIDs  [][]int64
	InputMask [][]int64
}

func clampMaxLen(maxLen, floor int) int {
	if maxLen < floor {
		log.Warn().Int("max_len", maxLen).Int("floor", floor).
			Msg("setting max_len to min allowed tokens")
		return floor
	}
	if maxLen > MaxSequenceLength {
		log.Warn().Int("max_len", maxLen).Int("ceiling", MaxSequenceLength).
			Msg("setting max_len to max allowed tokens")
		return MaxSequenceLength
	}
	return maxLen
}

// ForSequenceClassification preprocesses raw texts for sequence level
// classification: sentence markers are added, the body is truncated to
// maxLen-2, ids are right padded to exactly maxLen with the pad id, and the
// attention mask is derived as min(1, id) per position. The mask derivation
// conflates padding with a legitimate token id 0; that ambiguity is inherited
// behavior and deliberately kept.
func (e *Encoder) ForSequenceClassification(texts []string, maxLen int) (*SequenceClassificationInput, error) {
	if !e.Tokenizer.HasMarkers {
		return nil, fmt.Errorf("tokenizer does not declare sentence markers, cannot build classification input")
	}
	// the two sentence markers need room even when everything else is cut
	maxLen = clampMaxLen(maxLen, 2)

	out := &SequenceClassificationInput{
		InputIDs:  make([][]int64, len(texts)),
		InputMask: make([][]int64, len(texts)),
	}
	for i, text := range texts {
		enc, err := e.Tokenizer.Encode(text, false)
		if err != nil {
			return nil, err
		}
		body := enc.IDs
		if len(body) > maxLen-2 {
			body = body[:maxLen-2]
		}
		ids := make([]int64, 0, maxLen)
		ids = append(ids, e.Tokenizer.StartID)
		ids = append(ids, body...)
		ids = append(ids, e.Tokenizer.EndID)
		for len(ids) < maxLen {
			ids = append(ids, PadID)
		}
		mask := make([]int64, maxLen)
		for j, id := range ids {
			mask[j] = min(1, id)
		}
		out.InputIDs[i] = ids
		out.InputMask[i] = mask
	}
	return out, nil
}

// TokenClassificationInput is preprocessed input for token level
// classification. HasLabels records whether labels were supplied at call
// time; LabelIDs is populated only when a label map was given, otherwise the
// padded label strings are in Labels.
type TokenClassificationInput struct {
	InputIDs     [][]int64
	InputMask    [][]int64
	TrailingMask [][]bool
	Labels       [][]string
	LabelIDs     [][]int64
	HasLabels    bool
}

type tokenOptions struct {
	labels      [][]string
	labelMap    map[string]int
	trailingTag string
	padLabel    string
}

// TokenOption configures ForTokenClassification.
type TokenOption func(o *tokenOptions)

// WithLabels supplies per word labels, one row per input text.
func WithLabels(labels [][]string) TokenOption {
	return func(o *tokenOptions) {
		o.labels = labels
	}
}

// WithLabelMap maps label strings to numeric ids in the output.
func WithLabelMap(labelMap map[string]int) TokenOption {
	return func(o *tokenOptions) {
		o.labelMap = labelMap
	}
}

// WithTrailingTag overrides the tag assigned to trailing subword fragments.
// Default "X".
func WithTrailingTag(tag string) TokenOption {
	return func(o *tokenOptions) {
		o.trailingTag = tag
	}
}

// WithPadLabel overrides the label used for padding positions. Default "O".
func WithPadLabel(label string) TokenOption {
	return func(o *tokenOptions) {
		o.padLabel = label
	}
}

// ForTokenClassification preprocesses raw texts for token level
// classification. Each text is split on whitespace into words and each word
// tokenized independently; the word's label goes to its first fragment and
// the trailing tag to every other fragment. No sentence markers are added.
// Rows are truncated to maxLen, ids and mask padded with 0, labels padded
// with the pad label, and the trailing mask computed over the post padding
// label sequence.
func (e *Encoder) ForTokenClassification(texts []string, maxLen int, opts ...TokenOption) (*TokenClassificationInput, error) {
	o := &tokenOptions{trailingTag: "X", padLabel: "O"}
	for _, opt := range opts {
		opt(o)
	}
	maxLen = clampMaxLen(maxLen, 1)

	// must be captured before labels are defaulted below
	hasLabels := o.labels != nil

	out := &TokenClassificationInput{
		InputIDs:     make([][]int64, len(texts)),
		InputMask:    make([][]int64, len(texts)),
		TrailingMask: make([][]bool, len(texts)),
		Labels:       make([][]string, len(texts)),
		HasLabels:    hasLabels,
	}
	if o.labelMap != nil {
		out.LabelIDs = make([][]int64, len(texts))
	}

	for i, text := range texts {
		words := strings.Fields(text)
		rowLabels := make([]string, len(words))
		if hasLabels {
			if len(o.labels[i]) != len(words) {
				return nil, fmt.Errorf("input %d has %d words but %d labels", i, len(words), len(o.labels[i]))
			}
			copy(rowLabels, o.labels[i])
		} else {
			for w := range rowLabels {
				rowLabels[w] = o.padLabel
			}
		}

		var ids []int64
		var newLabels []string
		for w, word := range words {
			enc, err := e.Tokenizer.Encode(word, false)
			if err != nil {
				return nil, err
			}
			for count, id := range enc.IDs {
				tag := rowLabels[w]
				if count > 0 {
					tag = o.trailingTag
				}
				ids = append(ids, id)
				newLabels = append(newLabels, tag)
			}
		}

		if len(ids) > maxLen {
			ids = ids[:maxLen]
			newLabels = newLabels[:maxLen]
		}

		mask := make([]int64, len(ids), maxLen)
		for j := range mask {
			mask[j] = 1
		}
		for len(ids) < maxLen {
			ids = append(ids, PadID)
			mask = append(mask, 0)
			newLabels = append(newLabels, o.padLabel)
		}

		trailing := make([]bool, maxLen)
		for j, label := range newLabels {
			trailing[j] = label != o.trailingTag
		}

		out.InputIDs[i] = ids
		out.InputMask[i] = mask
		out.TrailingMask[i] = trailing
		out.Labels[i] = newLabels
		if o.labelMap != nil {
			labelIDs := make([]int64, maxLen)
			for j, label := range newLabels {
				id, ok := o.labelMap[label]
				if !ok {
					return nil, fmt.Errorf("label %q missing from label map", label)
				}
				labelIDs[j] = int64(id)
			}
			out.LabelIDs[i] = labelIDs
		}
	}
	return out, nil
}
