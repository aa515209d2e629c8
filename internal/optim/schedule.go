package optim

import (
	"fmt"
	"math"
)

type Scheduler interface {
	Name() string
	LR(step int) float64
}

// ExponentialLR multiplies the base rate by Gamma once every
// DecayFrequency steps.
type ExponentialLR struct {
	Base           float64
	Gamma          float64
	DecayFrequency int
}

func (s ExponentialLR) Name() string { return "ExponentialLR" }

func (s ExponentialLR) LR(step int) float64 {
	return s.Base * math.Pow(s.Gamma, float64(step/s.DecayFrequency))
}

type ConstantLR struct{ Base float64 }

func (s ConstantLR) Name() string   { return "constant" }
func (s ConstantLR) LR(int) float64 { return s.Base }

type SchedulerParams struct {
	Name           string  `yaml:"name"`
	Gamma          float64 `yaml:"gamma"`
	DecayFrequency int     `yaml:"decay_frequency"`
}

func NewScheduler(base float64, p SchedulerParams) (Scheduler, error) {
	if base <= 0 {
		return nil, fmt.Errorf("%w: learning rate %g", ErrInvalidParams, base)
	}
	switch p.Name {
	case "ExponentialLR", "exponential":
		if p.Gamma <= 0 || p.Gamma > 1 || p.DecayFrequency <= 0 {
			return nil, fmt.Errorf("%w: gamma=%g decay_frequency=%d", ErrInvalidParams, p.Gamma, p.DecayFrequency)
		}
		return ExponentialLR{Base: base, Gamma: p.Gamma, DecayFrequency: p.DecayFrequency}, nil
	case "", "constant":
		return ConstantLR{Base: base}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheduler, p.Name)
	}
}
