// Package optim provides the parameter update rule, the learning-rate
// schedule and a small grid search used to tune them.
package optim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/lorenzonet/internal/nn"
)

var (
	ErrUnknownOptimizer = errors.New("optim: unknown optimizer")
	ErrUnknownScheduler = errors.New("optim: unknown scheduler")
	ErrInvalidParams    = errors.New("optim: invalid parameters")
)

type Optimizer interface {
	Name() string
	// Step applies one update to params in place using grads at rate lr.
	Step(params []nn.Param, grads nn.Gradients, lr float64)
}

type AdamParams struct {
	Beta1   float64 `yaml:"beta1"`
	Beta2   float64 `yaml:"beta2"`
	Epsilon float64 `yaml:"epsilon"`
}

func DefaultAdamParams() AdamParams {
	return AdamParams{Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

func (p AdamParams) validate() error {
	if p.Beta1 < 0 || p.Beta1 >= 1 || p.Beta2 < 0 || p.Beta2 >= 1 || p.Epsilon <= 0 {
		return fmt.Errorf("%w: adam beta1=%g beta2=%g eps=%g", ErrInvalidParams, p.Beta1, p.Beta2, p.Epsilon)
	}
	return nil
}

// Adam keeps bias-corrected first and second moment estimates per
// parameter.
type Adam struct {
	p    AdamParams
	m, v [][]float64
	t    int
}

func NewAdam(p AdamParams) (*Adam, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Adam{p: p}, nil
}

func (a *Adam) Name() string { return "adam" }

func (a *Adam) ensureState(params []nn.Param) {
	if len(a.m) == len(params) {
		return
	}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Value))
		a.v[i] = make([]float64, len(p.Value))
	}
}

func (a *Adam) Step(params []nn.Param, grads nn.Gradients, lr float64) {
	a.ensureState(params)
	a.t++
	b1, b2 := a.p.Beta1, a.p.Beta2
	c1 := 1 - math.Pow(b1, float64(a.t))
	c2 := 1 - math.Pow(b2, float64(a.t))

	for k, p := range params {
		m, v, g := a.m[k], a.v[k], grads[k]
		for i := range p.Value {
			m[i] = b1*m[i] + (1-b1)*g[i]
			v[i] = b2*v[i] + (1-b2)*g[i]*g[i]
			p.Value[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.p.Epsilon)
		}
	}
}

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// NewOptimizer returns the optimizer registered under name.
func NewOptimizer(name string, p AdamParams) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "adam":
		return NewAdam(p)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOptimizer, name)
	}
}
