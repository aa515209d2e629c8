package physics

import (
	"fmt"

	"github.com/san-kum/lorenzonet/internal/dynamo"
)

// Rossler is a second three-variable chaotic flow sharing the DeepONet's
// input and output layout, so the same experiment can learn it.
type Rossler struct{ a, b, c float64 }

func NewRossler() *Rossler       { return &Rossler{0.2, 0.2, 5.7} }
func (r *Rossler) StateDim() int { return 3 }

func (r *Rossler) Derive(s dynamo.State, _ float64) dynamo.State {
	return dynamo.State{-s[1] - s[2], s[0] + r.a*s[1], r.b + s[2]*(s[0]-r.c)}
}
func (r *Rossler) DefaultState() dynamo.State { return dynamo.State{1.0, 1.0, 1.0} }
func (r *Rossler) GetParams() map[string]float64 {
	return map[string]float64{"a": r.a, "b": r.b, "c": r.c}
}
func (r *Rossler) SetParam(n string, v float64) error {
	switch n {
	case "a":
		r.a = v
	case "b":
		r.b = v
	case "c":
		r.c = v
	default:
		return fmt.Errorf("%w: rossler has no parameter %q", dynamo.ErrParameterBounds, n)
	}
	return nil
}

func (r *Rossler) Variables() []string { return []string{"x", "y", "z"} }

func (r *Rossler) Residuals() []string {
	return []string{
		"D(x, t) + y + z",
		"D(y, t) - x - a*y",
		"D(z, t) - b - z*(x - c)",
	}
}
