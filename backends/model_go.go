package backends

import (
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// GoModel holds the pure Go onnx session for a model.
type GoModel struct {
	Model *gonnx.Model
}

func createGoModelBackend(model *Model) error {
	session, err := gonnx.NewModelFromBytes(model.OnnxBytes)
	if err != nil {
		return err
	}
	inputs, outputs := loadInputOutputMetaGo(session)
	model.InputsMeta = inputs
	model.OutputsMeta = outputs
	model.GoModel = &GoModel{Model: session}
	return nil
}

func loadInputOutputMetaGo(model *gonnx.Model) ([]InputOutputInfo, []InputOutputInfo) {
	var inputs, outputs []InputOutputInfo
	inputShapes := model.InputShapes()
	for _, name := range model.InputNames() {
		shape := inputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, d := range shape {
			dimensions[i] = d.Size
		}
		inputs = append(inputs, InputOutputInfo{Name: name, Dimensions: dimensions})
	}
	outputShapes := model.OutputShapes()
	for _, name := range model.OutputNames() {
		shape := outputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, d := range shape {
			dimensions[i] = d.Size
		}
		outputs = append(outputs, InputOutputInfo{Name: name, Dimensions: dimensions})
	}
	return inputs, outputs
}

func forwardGo(m *Model, ids, mask *tensor.Dense) (*tensor.Dense, error) {
	shape := ids.Shape()
	inputMap := map[string]tensor.Tensor{}
	for _, inputMeta := range m.InputsMeta {
		switch inputMeta.Name {
		case "input_ids":
			inputMap[inputMeta.Name] = ids
		case "attention_mask":
			inputMap[inputMeta.Name] = mask
		case "token_type_ids":
			inputMap[inputMeta.Name] = tensor.New(
				tensor.Of(tensor.Int64),
				tensor.WithShape(shape[0], shape[1]),
			)
		default:
			return nil, fmt.Errorf("input %s not recognized", inputMeta.Name)
		}
	}
	outputs, err := m.GoModel.Model.Run(inputMap)
	if err != nil {
		return nil, err
	}
	outputName := m.OutputsMeta[0].Name
	logits, ok := outputs[outputName]
	if !ok {
		return nil, fmt.Errorf("output %s missing from session results", outputName)
	}
	dense, ok := logits.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("expected dense output, got %T", logits)
	}
	return dense, nil
}
