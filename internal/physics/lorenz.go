package physics

import (
	"fmt"

	"github.com/san-kum/lorenzonet/internal/dynamo"
)

type Lorenz struct{ sigma, rho, beta float64 }

func NewLorenz() *Lorenz        { return &Lorenz{10.0, 28.0, 8.0 / 3.0} }
func (l *Lorenz) StateDim() int { return 3 }

// Derive calculates the Lorenz attractor derivatives.
func (l *Lorenz) Derive(s dynamo.State, _ float64) dynamo.State {
	return dynamo.State{l.sigma * (s[1] - s[0]), s[0]*(l.rho-s[2]) - s[1], s[0]*s[1] - l.beta*s[2]}
}
func (l *Lorenz) DefaultState() dynamo.State { return dynamo.State{1.0, 0.0, 0.0} }
func (l *Lorenz) GetParams() map[string]float64 {
	return map[string]float64{"sigma": l.sigma, "rho": l.rho, "beta": l.beta}
}
func (l *Lorenz) SetParam(n string, v float64) error {
	switch n {
	case "sigma":
		l.sigma = v
	case "rho":
		l.rho = v
	case "beta":
		l.beta = v
	default:
		return fmt.Errorf("%w: lorenz has no parameter %q", dynamo.ErrParameterBounds, n)
	}
	return nil
}

// Variables returns the output names in state order.
func (l *Lorenz) Variables() []string { return []string{"x", "y", "z"} }

// Residuals returns the governing equations written as D(var, t) - f = 0,
// referencing the constant names reported by GetParams.
func (l *Lorenz) Residuals() []string {
	return []string{
		"D(x, t) - sigma*(y - x)",
		"D(y, t) - x*(rho - z) + y",
		"D(z, t) - x*y + beta*z",
	}
}
