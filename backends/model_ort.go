//go:build ORT || ALL

package backends

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/sentlab/sentlab/options"
)

// ORTModel holds the onnxruntime session for a model.
type ORTModel struct {
	Session        *ort.DynamicAdvancedSession
	SessionOptions *ort.SessionOptions
	Destroy        func() error
}

var ortEnvOnce sync.Once

func initORTEnvironment(opts *options.Options) error {
	var err error
	ortEnvOnce.Do(func() {
		if opts.ORTOptions.LibraryPath != nil {
			ort.SetSharedLibraryPath(*opts.ORTOptions.LibraryPath)
		}
		err = ort.InitializeEnvironment()
	})
	return err
}

func createORTModelBackend(model *Model, opts *options.Options) error {
	if err := initORTEnvironment(opts); err != nil {
		return err
	}
	sessionOptions, optErr := ort.NewSessionOptions()
	if optErr != nil {
		return optErr
	}
	if opts.ORTOptions.IntraOpNumThreads != nil {
		if err := sessionOptions.SetIntraOpNumThreads(*opts.ORTOptions.IntraOpNumThreads); err != nil {
			return err
		}
	}
	if opts.ORTOptions.InterOpNumThreads != nil {
		if err := sessionOptions.SetInterOpNumThreads(*opts.ORTOptions.InterOpNumThreads); err != nil {
			return err
		}
	}

	inputs, outputs, err := loadInputOutputMetaORT(model.OnnxBytes)
	if err != nil {
		return err
	}
	inputNames := make([]string, len(inputs))
	for i, v := range inputs {
		inputNames[i] = v.Name
	}
	outputNames := make([]string, len(outputs))
	for i, v := range outputs {
		outputNames[i] = v.Name
	}

	session, errSession := ort.NewDynamicAdvancedSessionWithONNXData(
		model.OnnxBytes,
		inputNames,
		outputNames,
		sessionOptions,
	)
	if errSession != nil {
		return errSession
	}

	model.InputsMeta = inputs
	model.OutputsMeta = outputs
	model.ORTModel = &ORTModel{Session: session, SessionOptions: sessionOptions, Destroy: func() error {
		return errors.Join(session.Destroy(), sessionOptions.Destroy())
	}}
	model.Destroy = model.ORTModel.Destroy
	return nil
}

func loadInputOutputMetaORT(onnxBytes []byte) ([]InputOutputInfo, []InputOutputInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, nil, err
	}
	return convertORTInputOutputs(inputs), convertORTInputOutputs(outputs), nil
}

func convertORTInputOutputs(infos []ort.InputOutputInfo) []InputOutputInfo {
	converted := make([]InputOutputInfo, len(infos))
	for i, info := range infos {
		converted[i] = InputOutputInfo{
			Name:       info.Name,
			Dimensions: info.Dimensions,
		}
	}
	return converted
}

func forwardORT(m *Model, ids, mask *tensor.Dense) (out *tensor.Dense, err error) {
	shape := ids.Shape()
	batchSize := int64(shape[0])
	sequenceLength := int64(shape[1])

	inputTensors := make([]ort.Value, len(m.InputsMeta))
	defer func() {
		for _, t := range inputTensors {
			if t != nil {
				err = errors.Join(err, t.Destroy())
			}
		}
	}()
	for i, inputMeta := range m.InputsMeta {
		var backing []int64
		switch inputMeta.Name {
		case "input_ids":
			backing = ids.Data().([]int64)
		case "attention_mask":
			backing = mask.Data().([]int64)
		case "token_type_ids":
			backing = make([]int64, batchSize*sequenceLength)
		default:
			return nil, fmt.Errorf("input %s not recognized", inputMeta.Name)
		}
		inputTensors[i], err = ort.NewTensor(ort.NewShape(batchSize, sequenceLength), backing)
		if err != nil {
			return nil, err
		}
	}

	// allocate the output with dynamic axes resolved to the actual batch
	outputMeta := m.OutputsMeta[0]
	actualDims := make([]int64, 0, len(outputMeta.Dimensions))
	var batchDimSet, tokenDimSet bool
	for _, dim := range outputMeta.Dimensions {
		switch {
		case dim != -1:
			actualDims = append(actualDims, dim)
		case !batchDimSet:
			actualDims = append(actualDims, batchSize)
			batchDimSet = true
		case !tokenDimSet:
			actualDims = append(actualDims, sequenceLength)
			tokenDimSet = true
		default:
			return nil, fmt.Errorf("only two axes can be dynamic (batch size and number of tokens)")
		}
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(actualDims...))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, outputTensor.Destroy())
	}()

	if errOnnx := m.ORTModel.Session.Run(inputTensors, []ort.Value{outputTensor}); errOnnx != nil {
		return nil, errOnnx
	}

	logits := make([]float32, len(outputTensor.GetData()))
	copy(logits, outputTensor.GetData())
	outShape := make([]int, len(actualDims))
	for i, d := range actualDims {
		outShape[i] = int(d)
	}
	return tensor.New(tensor.WithShape(outShape...), tensor.WithBacking(logits)), err
}
