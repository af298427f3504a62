package backends

import (
	"fmt"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"gorgonia.org/tensor"

	"github.com/sentlab/sentlab/options"
	"github.com/sentlab/sentlab/util/fileutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InputOutputInfo describes a graph input or output: its name and, when it is
// a tensor, its dimensions. Dynamic axes are -1.
type InputOutputInfo struct {
	Name       string
	Dimensions []int64
}

// Timings accumulates call counts and wall time for a model or tokenizer.
type Timings struct {
	NumCalls uint64
	TotalNS  uint64
}

type modelConfig struct {
	ID2Label              map[string]string `json:"id2label"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	ModelType             string            `json:"model_type"`
}

// Model is the opaque handle a classifier owns. It bundles the serialized
// graph, its label vocabulary, the tokenizer, and the per-runtime session.
// A Model is mutated in place by fitting (through Trainable) and is read-only
// during prediction.
type Model struct {
	Path         string
	OnnxFilename string
	OnnxBytes    []byte

	ID2Label              map[int]string
	Label2ID              map[string]int
	MaxPositionEmbeddings int

	InputsMeta  []InputOutputInfo
	OutputsMeta []InputOutputInfo

	Tokenizer *Tokenizer
	ORTModel  *ORTModel
	GoModel   *GoModel

	// Trainable is set when the underlying backend supports gradient updates.
	// Inference-only backends (ORT, GO) leave it nil.
	Trainable TrainableModel

	Runtime string
	Destroy func() error
}

// LoadModel reads the serialized model and its configuration from path and
// creates the session for the backend selected in opts.
func LoadModel(path string, onnxFilename string, opts *options.Options) (*Model, error) {
	if onnxFilename == "" {
		onnxFilename = "model.onnx"
	}
	model := &Model{
		Path:         path,
		OnnxFilename: onnxFilename,
		Runtime:      opts.Backend,
		Destroy: func() error {
			return nil
		},
	}
	onnxBytes, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(path, onnxFilename))
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", onnxFilename, err)
	}
	model.OnnxBytes = onnxBytes

	if err := loadModelConfig(model); err != nil {
		return nil, err
	}
	if err := createModelBackend(model, opts); err != nil {
		return nil, err
	}
	if err := LoadTokenizer(model); err != nil {
		return nil, err
	}
	return model, nil
}

func loadModelConfig(model *Model) error {
	configPath := fileutil.PathJoinSafe(model.Path, "config.json")
	exists, err := fileutil.FileExists(configPath)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	configBytes, err := fileutil.ReadFileBytes(configPath)
	if err != nil {
		return err
	}
	config := modelConfig{}
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return fmt.Errorf("parsing config.json: %w", err)
	}
	model.MaxPositionEmbeddings = config.MaxPositionEmbeddings
	if len(config.ID2Label) > 0 {
		model.ID2Label = make(map[int]string, len(config.ID2Label))
		model.Label2ID = make(map[string]int, len(config.ID2Label))
		for k, v := range config.ID2Label {
			id, convErr := strconv.Atoi(k)
			if convErr != nil {
				return fmt.Errorf("non numeric label id %q in config.json: %w", k, convErr)
			}
			model.ID2Label[id] = v
			model.Label2ID[v] = id
		}
	}
	return nil
}

// NumLabels is the size of the model's label vocabulary.
func (m *Model) NumLabels() int {
	return len(m.ID2Label)
}

// Labels returns the label strings ordered by id.
func (m *Model) Labels() []string {
	ids := make([]int, 0, len(m.ID2Label))
	for id := range m.ID2Label {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = m.ID2Label[id]
	}
	return labels
}

func createModelBackend(model *Model, opts *options.Options) error {
	switch opts.Backend {
	case "ORT":
		return createORTModelBackend(model, opts)
	case "GO":
		return createGoModelBackend(model)
	default:
		return fmt.Errorf("backend %s not recognized, accepted values are: ORT, GO", opts.Backend)
	}
}

// Forward runs a no-gradient forward pass over a rectangular batch of token
// ids and attention masks, both of shape (batch, sequence). It returns the
// logits of the model's first output.
func (m *Model) Forward(ids, mask *tensor.Dense) (*tensor.Dense, error) {
	switch m.Runtime {
	case "ORT":
		return forwardORT(m, ids, mask)
	case "GO":
		return forwardGo(m, ids, mask)
	default:
		return nil, fmt.Errorf("runtime %s not recognized", m.Runtime)
	}
}
