//go:build ORT || ALL

package backends

import (
	"github.com/daulet/tokenizers"

	"github.com/sentlab/sentlab/util/safeconv"
)

// RustTokenizer wraps the HuggingFace rust tokenizer bindings.
type RustTokenizer struct {
	Tokenizer *tokenizers.Tokenizer
	Options   []tokenizers.EncodeOption
}

func loadRustTokenizer(tokenizerBytes []byte, maxTokens int) (*Tokenizer, error) {
	rustTK, err := tokenizers.FromBytes(tokenizerBytes)
	if err != nil {
		return nil, err
	}
	encodeOptions := []tokenizers.EncodeOption{
		tokenizers.WithReturnTokens(),
		tokenizers.WithReturnTypeIDs(),
		tokenizers.WithReturnAttentionMask(),
		tokenizers.WithReturnSpecialTokensMask(),
		tokenizers.WithReturnOffsets(),
	}
	t := &Tokenizer{
		Runtime:          "RUST",
		RustTokenizer:    &RustTokenizer{Tokenizer: rustTK, Options: encodeOptions},
		MaxAllowedTokens: maxTokens,
		TokenizerTimings: &Timings{},
		Destroy: func() error {
			return rustTK.Close()
		},
	}
	discoverMarkers(t)
	return t, nil
}

func encodeRust(t *Tokenizer, text string, addSpecialTokens bool) Encoding {
	rustTK := t.RustTokenizer
	output := rustTK.Tokenizer.EncodeWithOptions(text, addSpecialTokens, rustTK.Options...)
	enc := Encoding{
		Tokens:            output.Tokens,
		IDs:               safeconv.Uint32SliceToInt64Slice(output.IDs),
		TypeIDs:           safeconv.Uint32SliceToInt64Slice(output.TypeIDs),
		AttentionMask:     safeconv.Uint32SliceToInt64Slice(output.AttentionMask),
		SpecialTokensMask: safeconv.Uint32SliceToInt64Slice(output.SpecialTokensMask),
		Offsets:           convertRustOffsets(output.Offsets),
	}
	return t.truncate(enc)
}

func decodeRust(t *Tokenizer, ids []int64, skipSpecialTokens bool) string {
	converted := make([]uint32, len(ids))
	for i, id := range ids {
		if id < 0 {
			id = 0
		}
		converted[i] = uint32(id)
	}
	return t.RustTokenizer.Tokenizer.Decode(converted, skipSpecialTokens)
}

func convertRustOffsets(input []tokenizers.Offset) [][2]uint {
	output := make([][2]uint, len(input))
	for i, offset := range input {
		output[i] = [2]uint{offset[0], offset[1]}
	}
	return output
}
