//go:build !ORT && !ALL

package backends

import "errors"

type RustTokenizer struct{}

func loadRustTokenizer(_ []byte, _ int) (*Tokenizer, error) {
	return nil, errors.New("the rust tokenizer is not enabled, build with the ORT or ALL tag")
}

func encodeRust(_ *Tokenizer, _ string, _ bool) Encoding {
	return Encoding{}
}

func decodeRust(_ *Tokenizer, _ []int64, _ bool) string {
	return ""
}
