package backends

import "gorgonia.org/tensor"

// Parameter is a named model weight with its gradient accumulator. Optimizers
// group parameters by name to decide weight decay treatment.
type Parameter struct {
	Name  string
	Value *tensor.Dense
	Grad  *tensor.Dense
}

// TrainableModel is the capability contract a model handle must provide to be
// fine-tuned. The forward and backward pass, autograd, and weight storage all
// live behind this interface; the classifier only drives the loop.
type TrainableModel interface {
	// Train toggles training mode (dropout on/off and so on).
	Train(on bool)
	// Forward runs the model on a rectangular (batch, sequence) id and mask
	// pair. When labels is non-nil the batch loss is computed, retained for
	// Backward, and returned averaged across compute replicas.
	Forward(ids, mask, labels *tensor.Dense) (logits *tensor.Dense, loss float64, err error)
	// Backward accumulates parameter gradients from the last Forward call
	// that computed a loss.
	Backward() error
	// Parameters exposes the named parameters for optimizer construction.
	Parameters() []*Parameter
	// Replicate places the model on n parallel compute replicas. The backend
	// coordinates the replicas itself.
	Replicate(n int) error
	// Save writes a weight checkpoint under dir.
	Save(dir string) error
}
