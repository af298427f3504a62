package backends

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sentlab/sentlab/util/fileutil"
	"github.com/sentlab/sentlab/util/safeconv"
)

// Encoding is the result of running the tokenizer on a single input.
type Encoding struct {
	Tokens            []string
	IDs               []int64
	TypeIDs           []int64
	AttentionMask     []int64
	SpecialTokensMask []int64
	Offsets           [][2]uint
}

// Tokenizer wraps a pretrained subword tokenizer. The GO runtime uses the
// sugarme pure Go implementation, the ORT runtime the rust bindings.
type Tokenizer struct {
	Runtime       string
	GoTokenizer   *GoTokenizer
	RustTokenizer *RustTokenizer

	// MaxAllowedTokens truncates encodings when > 0.
	MaxAllowedTokens int

	// StartID/EndID are the sentence marker ids ([CLS]/[SEP] for BERT style
	// vocabularies) when the tokenizer declares them.
	StartID, EndID int64
	HasMarkers     bool

	TokenizerTimings *Timings
	Destroy          func() error
}

// LoadTokenizer loads the tokenizer stored alongside model, matching the
// tokenizer runtime to the model backend.
func LoadTokenizer(model *Model) error {
	tk, err := LoadTokenizerFromPath(model.Path, model.Runtime, model.MaxPositionEmbeddings)
	if err != nil {
		return err
	}
	model.Tokenizer = tk
	return nil
}

// LoadTokenizerFromPath loads a tokenizer from a model directory containing
// either a tokenizer.json or, for the GO runtime, a bare vocab.txt.
// maxTokens caps encoding lengths when > 0.
func LoadTokenizerFromPath(path string, runtime string, maxTokens int) (*Tokenizer, error) {
	tokenizerFile := fileutil.PathJoinSafe(path, "tokenizer.json")
	exists, err := fileutil.FileExists(tokenizerFile)
	if err != nil {
		return nil, err
	}

	switch runtime {
	case "GO":
		if exists {
			tokenizerBytes, readErr := fileutil.ReadFileBytes(tokenizerFile)
			if readErr != nil {
				return nil, readErr
			}
			return loadGoTokenizer(tokenizerBytes, maxTokens)
		}
		return loadGoWordPieceTokenizer(fileutil.PathJoinSafe(path, "vocab.txt"), maxTokens)
	case "ORT":
		if !exists {
			return nil, fmt.Errorf("tokenizer.json is required for the ORT runtime, none found under %s", path)
		}
		tokenizerBytes, readErr := fileutil.ReadFileBytes(tokenizerFile)
		if readErr != nil {
			return nil, readErr
		}
		return loadRustTokenizer(tokenizerBytes, maxTokens)
	default:
		return nil, fmt.Errorf("runtime %s not recognized", runtime)
	}
}

// Encode tokenizes a single input. With addSpecialTokens the tokenizer's own
// template (sentence markers, type ids) is applied. Call counts and wall
// time accumulate in TokenizerTimings.
func (t *Tokenizer) Encode(text string, addSpecialTokens bool) (Encoding, error) {
	start := time.Now()
	defer func() {
		atomic.AddUint64(&t.TokenizerTimings.NumCalls, 1)
		atomic.AddUint64(&t.TokenizerTimings.TotalNS, safeconv.DurationToU64(time.Since(start)))
	}()
	switch t.Runtime {
	case "GO":
		return encodeGo(t, text, addSpecialTokens)
	case "RUST":
		return encodeRust(t, text, addSpecialTokens), nil
	default:
		return Encoding{}, fmt.Errorf("runtime %s not recognized", t.Runtime)
	}
}

// Decode maps token ids back to a string.
func (t *Tokenizer) Decode(ids []int64, skipSpecialTokens bool) (string, error) {
	switch t.Runtime {
	case "GO":
		return decodeGo(t, ids, skipSpecialTokens), nil
	case "RUST":
		return decodeRust(t, ids, skipSpecialTokens), nil
	default:
		return "", fmt.Errorf("runtime %s not recognized", t.Runtime)
	}
}

// discoverMarkers derives the sentence marker ids by encoding an empty input
// with special tokens: anything the template adds must be a marker.
func discoverMarkers(t *Tokenizer) {
	enc, err := t.Encode("", true)
	if err != nil || len(enc.IDs) != 2 {
		return
	}
	t.StartID = enc.IDs[0]
	t.EndID = enc.IDs[1]
	t.HasMarkers = true
}

func (t *Tokenizer) truncate(enc Encoding) Encoding {
	if t.MaxAllowedTokens <= 0 || len(enc.Tokens) <= t.MaxAllowedTokens {
		return enc
	}
	n := t.MaxAllowedTokens
	enc.Tokens = enc.Tokens[:n]
	enc.IDs = enc.IDs[:min(len(enc.IDs), n)]
	enc.TypeIDs = enc.TypeIDs[:min(len(enc.TypeIDs), n)]
	enc.AttentionMask = enc.AttentionMask[:min(len(enc.AttentionMask), n)]
	enc.SpecialTokensMask = enc.SpecialTokensMask[:min(len(enc.SpecialTokensMask), n)]
	enc.Offsets = enc.Offsets[:min(len(enc.Offsets), n)]
	return enc
}
