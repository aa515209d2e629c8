package nn

import (
	"fmt"
	"math"
	"strings"
)

// Activation is a scalar nonlinearity together with its first two
// derivatives. The second derivative is needed because training
// differentiates the time tangent of every layer.
type Activation interface {
	Name() string
	Eval(z float64) (f, df, d2f float64)
}

type tanhAct struct{}

func (tanhAct) Name() string { return "tanh" }
func (tanhAct) Eval(z float64) (float64, float64, float64) {
	h := math.Tanh(z)
	s := 1 - h*h
	return h, s, -2 * h * s
}

type identityAct struct{}

func (identityAct) Name() string                               { return "identity" }
func (identityAct) Eval(z float64) (float64, float64, float64) { return z, 1, 0 }

type sigmoidAct struct{}

func (sigmoidAct) Name() string { return "sigmoid" }
func (sigmoidAct) Eval(z float64) (float64, float64, float64) {
	s := 1 / (1 + math.Exp(-z))
	d := s * (1 - s)
	return s, d, d * (1 - 2*s)
}

type sinAct struct{}

func (sinAct) Name() string { return "sin" }
func (sinAct) Eval(z float64) (float64, float64, float64) {
	s, c := math.Sincos(z)
	return s, c, -s
}

var activations = map[string]Activation{
	"tanh":     tanhAct{},
	"identity": identityAct{},
	"linear":   identityAct{},
	"sigmoid":  sigmoidAct{},
	"sin":      sinAct{},
}

func ActivationByName(name string) (Activation, error) {
	act, ok := activations[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivation, name)
	}
	return act, nil
}
