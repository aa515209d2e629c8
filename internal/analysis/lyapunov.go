package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/lorenzonet/internal/dynamo"
)

var ErrInvalidWindow = errors.New("analysis: invalid integration window")

// LargestLyapunov estimates the largest Lyapunov exponent of dyn. The
// trajectory from x0 is first run for transient time units, then followed
// together with a copy displaced by d0 for duration time units. After each
// step the separation is measured and scaled back to d0:
//
//	lambda = 1/(n dt) * sum ln(|dx_k| / d0)
func LargestLyapunov(
	dyn dynamo.System,
	integ dynamo.Integrator,
	x0 dynamo.State,
	dt, transient, duration float64,
	d0 float64,
) (float64, error) {
	if dt <= 0 || transient < 0 || duration < dt || d0 <= 0 {
		return 0, fmt.Errorf("%w: dt=%g transient=%g duration=%g d0=%g", ErrInvalidWindow, dt, transient, duration, d0)
	}
	if len(x0) != dyn.StateDim() {
		return 0, fmt.Errorf("%w: state has %d entries, system %d", dynamo.ErrDimensionMismatch, len(x0), dyn.StateDim())
	}

	x := x0.Clone()
	t := 0.0
	for i := 0; i < int(transient/dt); i++ {
		x = integ.Step(dyn, x, t, dt)
		t += dt
	}

	xp := x.Clone()
	xp[0] += d0

	steps := int(duration / dt)
	sumLog := 0.0
	for i := 0; i < steps; i++ {
		x = integ.Step(dyn, x, t, dt)
		xp = integ.Step(dyn, xp, t, dt)
		t += dt

		if !x.IsValid() || !xp.IsValid() {
			return 0, &dynamo.SimulationError{Step: i, Time: t, State: x, Wrapped: dynamo.ErrUnstable}
		}

		sep := xp.Sub(x).Norm()
		if sep == 0 {
			// the copy collapsed onto the trajectory; displace it again
			xp = x.Clone()
			xp[0] += d0
			continue
		}
		sumLog += math.Log(sep / d0)

		scale := d0 / sep
		for j := range xp {
			xp[j] = x[j] + (xp[j]-x[j])*scale
		}
	}

	return sumLog / (float64(steps) * dt), nil
}

// LyapunovTime is 1/lambda, or +Inf for non-chaotic exponents.
func LyapunovTime(lambda float64) float64 {
	if lambda <= 0 {
		return math.Inf(1)
	}
	return 1 / lambda
}
