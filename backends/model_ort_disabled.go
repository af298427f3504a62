//go:build !ORT && !ALL

package backends

import (
	"errors"

	"gorgonia.org/tensor"

	"github.com/sentlab/sentlab/options"
)

type ORTModel struct {
	Destroy func() error
}

func createORTModelBackend(_ *Model, _ *options.Options) error {
	return errors.New("the ORT backend is not enabled, build with the ORT or ALL tag")
}

func forwardORT(_ *Model, _, _ *tensor.Dense) (*tensor.Dense, error) {
	return nil, errors.New("the ORT backend is not enabled, build with the ORT or ALL tag")
}
