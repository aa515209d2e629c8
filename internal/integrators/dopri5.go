package integrators

import (
	"math"

	"github.com/san-kum/lorenzonet/internal/dynamo"
)

// Dormand-Prince 5(4) tableau. The last stage is evaluated at the
// fifth-order solution, so its weights in dp5B are zero.
var (
	dp5C = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dp5A = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	dp5B = [7]float64{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84, 0}
	// fourth-order embedded weights
	dp5E = [7]float64{5179.0 / 57600, 0, 7571.0 / 16695, 393.0 / 640, -92097.0 / 339200, 187.0 / 2100, 1.0 / 40}
)

// DOPRI5 is the Dormand-Prince 5(4) pair. Step takes one fixed fifth-order
// step; StepAdaptive keeps the embedded error estimate within a tolerance.
type DOPRI5 struct {
	Safety, MinScale, MaxScale float64

	// MinStep is the smallest step StepAdaptive shrinks to; a step this
	// small is accepted whatever its error.
	MinStep float64

	k       [7]dynamo.State
	scratch dynamo.State
}

func NewDOPRI5() *DOPRI5 {
	return &DOPRI5{Safety: 0.9, MinScale: 0.2, MaxScale: 10, MinStep: 1e-12}
}

func (d *DOPRI5) ensureScratch(n int) {
	if len(d.scratch) != n {
		for i := range d.k {
			d.k[i] = make(dynamo.State, n)
		}
		d.scratch = make(dynamo.State, n)
	}
}

func (d *DOPRI5) Step(dyn dynamo.System, x dynamo.State, t, dt float64) dynamo.State {
	return d.attempt(dyn, x, t, dt)
}

// StepAdaptive advances x from t by at most dt. Attempts whose local error
// exceeds tol are discarded and retried with a smaller step. It returns the
// new state, the step actually taken and the step suggested for the next
// call. A non-positive tol takes dt unchecked.
func (d *DOPRI5) StepAdaptive(dyn dynamo.System, x dynamo.State, t, dt, tol float64) (dynamo.State, float64, float64) {
	if tol <= 0 {
		return d.attempt(dyn, x, t, dt), dt, dt
	}
	for {
		next := d.attempt(dyn, x, t, dt)
		ratio := d.errorNorm(x, dt) / tol
		if !(ratio > 1) || dt <= d.MinStep {
			grow := d.MaxScale
			if ratio > 0 {
				grow = math.Min(d.MaxScale, d.Safety*math.Pow(ratio, -0.2))
			}
			return next, dt, dt * grow
		}
		dt = math.Max(d.MinStep, dt*math.Max(d.MinScale, d.Safety*math.Pow(ratio, -0.25)))
	}
}

// attempt evaluates all stages from x and returns the fifth-order solution.
func (d *DOPRI5) attempt(dyn dynamo.System, x dynamo.State, t, dt float64) dynamo.State {
	n := len(x)
	d.ensureScratch(n)

	for s := 0; s < len(dp5C); s++ {
		for i := 0; i < n; i++ {
			acc := 0.0
			for j := 0; j < s; j++ {
				acc += dp5A[s][j] * d.k[j][i]
			}
			d.scratch[i] = x[i] + dt*acc
		}
		copy(d.k[s], dyn.Derive(d.scratch, t+dp5C[s]*dt))
	}

	// the last stage input is the fifth-order solution
	return d.scratch.Clone()
}

// errorNorm is the largest scaled difference between the fifth- and
// fourth-order solutions of the last attempt.
func (d *DOPRI5) errorNorm(x dynamo.State, dt float64) float64 {
	errMax := 0.0
	for i := range x {
		est := 0.0
		for s := range dp5B {
			est += (dp5B[s] - dp5E[s]) * d.k[s][i]
		}
		scale := math.Abs(x[i]) + math.Abs(dt*d.k[0][i]) + 1e-10
		errMax = math.Max(errMax, math.Abs(dt*est)/scale)
	}
	return errMax
}
