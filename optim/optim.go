// Package optim implements the weight decay fixed variant of Adam together
// with the linear warmup schedule used for fine tuning transformer encoders.
package optim

import (
	"fmt"
	"math"
	"strings"

	"github.com/sentlab/sentlab/backends"
)

// Defaults matching the common fine tuning recipe.
const (
	DefaultLearningRate = 5e-5
	DefaultWeightDecay  = 0.01
	DefaultBeta1        = 0.9
	DefaultBeta2        = 0.999
	DefaultEpsilon      = 1e-8
	DefaultWarmupShare  = 0.1
)

// noDecayMarkers identifies parameters exempt from weight decay by name.
var noDecayMarkers = []string{"bias", "LayerNorm"}

// Group is a set of parameters sharing one weight decay setting.
type Group struct {
	Params      []*backends.Parameter
	WeightDecay float64
}

// GroupParameters splits params into a decayed group and an exempt group.
// Biases and layer norm weights are exempt, everything else decays.
func GroupParameters(params []*backends.Parameter, weightDecay float64) []Group {
	decayed := Group{WeightDecay: weightDecay}
	exempt := Group{WeightDecay: 0}
	for _, p := range params {
		if isDecayExempt(p.Name) {
			exempt.Params = append(exempt.Params, p)
		} else {
			decayed.Params = append(decayed.Params, p)
		}
	}
	return []Group{decayed, exempt}
}

func isDecayExempt(name string) bool {
	for _, marker := range noDecayMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// Schedule maps a step counter to a learning rate multiplier. The warmup
// linear schedule ramps from 0 to 1 over the warmup steps and then decays
// linearly to 0 at the final step.
type Schedule struct {
	warmupSteps int
	totalSteps  int
}

// NewWarmupLinear builds a schedule over totalSteps with warmupShare of
// them spent warming up.
func NewWarmupLinear(totalSteps int, warmupShare float64) (*Schedule, error) {
	if totalSteps <= 0 {
		return nil, fmt.Errorf("total steps must be positive, was %d", totalSteps)
	}
	if warmupShare < 0 || warmupShare > 1 {
		return nil, fmt.Errorf("warmup share must be in [0, 1], was %g", warmupShare)
	}
	return &Schedule{
		warmupSteps: int(float64(totalSteps) * warmupShare),
		totalSteps:  totalSteps,
	}, nil
}

// Multiplier returns the learning rate factor for a zero based step.
func (s *Schedule) Multiplier(step int) float64 {
	if step < s.warmupSteps {
		return float64(step+1) / float64(max(s.warmupSteps, 1))
	}
	remaining := float64(s.totalSteps - step)
	if remaining < 0 {
		return 0
	}
	return remaining / float64(max(s.totalSteps-s.warmupSteps, 1))
}

// AdamW applies decoupled weight decay Adam updates to parameter groups.
type AdamW struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Schedule     *Schedule

	groups []Group
	step   int
	m      map[*backends.Parameter][]float32
	v      map[*backends.Parameter][]float32
}

// NewAdamW builds an optimizer over the given groups. A nil schedule means
// a constant learning rate.
func NewAdamW(groups []Group, learningRate float64, schedule *Schedule) *AdamW {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	return &AdamW{
		LearningRate: learningRate,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
		Schedule:     schedule,
		groups:       groups,
		m:            map[*backends.Parameter][]float32{},
		v:            map[*backends.Parameter][]float32{},
	}
}

// Step consumes the current gradients and advances every parameter once.
func (a *AdamW) Step() error {
	a.step++
	lr := a.LearningRate
	if a.Schedule != nil {
		lr *= a.Schedule.Multiplier(a.step - 1)
	}
	biasCorr1 := 1 - math.Pow(a.Beta1, float64(a.step))
	biasCorr2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, g := range a.groups {
		for _, p := range g.Params {
			value, ok := p.Value.Data().([]float32)
			if !ok {
				return fmt.Errorf("parameter %s is not float32", p.Name)
			}
			grad, ok := p.Grad.Data().([]float32)
			if !ok {
				return fmt.Errorf("gradient of %s is not float32", p.Name)
			}
			if len(grad) != len(value) {
				return fmt.Errorf("parameter %s has %d values but %d gradients",
					p.Name, len(value), len(grad))
			}
			m := a.moment(a.m, p, len(value))
			v := a.moment(a.v, p, len(value))
			for i := range value {
				gi := float64(grad[i])
				m[i] = float32(a.Beta1*float64(m[i]) + (1-a.Beta1)*gi)
				v[i] = float32(a.Beta2*float64(v[i]) + (1-a.Beta2)*gi*gi)
				mHat := float64(m[i]) / biasCorr1
				vHat := float64(v[i]) / biasCorr2
				update := lr * mHat / (math.Sqrt(vHat) + a.Epsilon)
				// decay is decoupled from the gradient moments
				update += lr * g.WeightDecay * float64(value[i])
				value[i] -= float32(update)
			}
		}
	}
	return nil
}

func (a *AdamW) moment(store map[*backends.Parameter][]float32, p *backends.Parameter, n int) []float32 {
	buf, found := store[p]
	if !found {
		buf = make([]float32, n)
		store[p] = buf
	}
	return buf
}

// ZeroGradients clears all gradient buffers ahead of the next backward pass.
func (a *AdamW) ZeroGradients() {
	for _, g := range a.groups {
		for _, p := range g.Params {
			grad, ok := p.Grad.Data().([]float32)
			if !ok {
				continue
			}
			for i := range grad {
				grad[i] = 0
			}
		}
	}
}

// ClipGradientNorm rescales all gradients in place so their global L2 norm
// does not exceed maxNorm, returning the norm before clipping.
func ClipGradientNorm(params []*backends.Parameter, maxNorm float64) (float64, error) {
	var sumSquares float64
	for _, p := range params {
		grad, ok := p.Grad.Data().([]float32)
		if !ok {
			return 0, fmt.Errorf("gradient of %s is not float32", p.Name)
		}
		for _, g := range grad {
			sumSquares += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(sumSquares)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range params {
			grad := p.Grad.Data().([]float32)
			for i := range grad {
				grad[i] = float32(float64(grad[i]) * scale)
			}
		}
	}
	return norm, nil
}
