package backends

import (
	"bytes"
	"strings"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/sugarme/tokenizer/processor"

	"github.com/sentlab/sentlab/util/fileutil"
	"github.com/sentlab/sentlab/util/safeconv"
)

// GoTokenizer wraps the sugarme pure Go tokenizer.
type GoTokenizer struct {
	Tokenizer *tk.Tokenizer
}

func loadGoTokenizer(tokenizerBytes []byte, maxTokens int) (*Tokenizer, error) {
	goTK, err := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if err != nil {
		return nil, err
	}
	t := &Tokenizer{
		Runtime:          "GO",
		GoTokenizer:      &GoTokenizer{Tokenizer: goTK},
		MaxAllowedTokens: maxTokens,
		TokenizerTimings: &Timings{},
		Destroy: func() error {
			return nil
		},
	}
	discoverMarkers(t)
	return t, nil
}

// loadGoWordPieceTokenizer builds a BERT style wordpiece tokenizer from a bare
// vocab.txt, for model directories without a tokenizer.json.
func loadGoWordPieceTokenizer(vocabPath string, maxTokens int) (*Tokenizer, error) {
	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, "[UNK]")
	if err != nil {
		return nil, err
	}
	goTK := tk.NewTokenizer(wp)
	goTK.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	goTK.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	clsID, sepID := vocabMarkerIDs(vocabPath)
	goTK.WithPostProcessor(processor.NewBertProcessing(
		processor.PostToken{Value: "[SEP]", Id: sepID},
		processor.PostToken{Value: "[CLS]", Id: clsID},
	))

	t := &Tokenizer{
		Runtime:          "GO",
		GoTokenizer:      &GoTokenizer{Tokenizer: goTK},
		MaxAllowedTokens: maxTokens,
		StartID:          int64(clsID),
		EndID:            int64(sepID),
		HasMarkers:       true,
		TokenizerTimings: &Timings{},
		Destroy: func() error {
			return nil
		},
	}
	return t, nil
}

// vocabMarkerIDs finds [CLS] and [SEP] by vocab line order.
func vocabMarkerIDs(vocabPath string) (int, int) {
	clsID, sepID := 101, 102
	content, err := fileutil.ReadFileBytes(vocabPath)
	if err != nil {
		return clsID, sepID
	}
	for i, line := range strings.Split(string(content), "\n") {
		switch strings.TrimSpace(line) {
		case "[CLS]":
			clsID = i
		case "[SEP]":
			sepID = i
		}
	}
	return clsID, sepID
}

func encodeGo(t *Tokenizer, text string, addSpecialTokens bool) (Encoding, error) {
	output, err := t.GoTokenizer.Tokenizer.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return Encoding{}, err
	}
	enc := Encoding{
		Tokens:            output.GetTokens(),
		IDs:               safeconv.IntSliceToInt64Slice(output.GetIds()),
		TypeIDs:           safeconv.IntSliceToInt64Slice(output.GetTypeIds()),
		AttentionMask:     safeconv.IntSliceToInt64Slice(output.GetAttentionMask()),
		SpecialTokensMask: safeconv.IntSliceToInt64Slice(output.GetSpecialTokenMask()),
		Offsets:           convertGoOffsets(output.GetOffsets()),
	}
	return t.truncate(enc), nil
}

func decodeGo(t *Tokenizer, ids []int64, skipSpecialTokens bool) string {
	return t.GoTokenizer.Tokenizer.Decode(safeconv.Int64SliceToIntSlice(ids), skipSpecialTokens)
}

func convertGoOffsets(input [][]int) [][2]uint {
	output := make([][2]uint, len(input))
	for i, pair := range input {
		var a, b int
		if len(pair) > 0 {
			a = pair[0]
		}
		if len(pair) > 1 {
			b = pair[1]
		}
		if a < 0 {
			a = 0
		}
		if b < 0 {
			b = 0
		}
		output[i] = [2]uint{uint(a), uint(b)}
	}
	return output
}
