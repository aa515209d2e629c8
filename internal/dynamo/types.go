package dynamo

import "math"

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

type System interface {
	Derive(x State, t float64) State
	StateDim() int
}

type Integrator interface {
	Step(dyn System, x State, t float64, dt float64) State
}

// AdaptiveIntegrator picks its own step against a local error tolerance.
// StepAdaptive returns the new state, the step it took (at most dt) and
// the step it suggests next.
type AdaptiveIntegrator interface {
	Integrator
	StepAdaptive(dyn System, x State, t, dt, tol float64) (State, float64, float64)
}

// Trajectory integrates dyn from x0 and records the state at each of the
// requested times. Times must be non-decreasing and start at or after zero;
// the integrator never takes a step longer than maxDt.
func Trajectory(dyn System, integ Integrator, x0 State, times []float64, maxDt float64) ([]State, error) {
	if len(x0) != dyn.StateDim() {
		return nil, ErrDimensionMismatch
	}
	if maxDt <= 0 {
		return nil, ErrParameterBounds
	}

	out := make([]State, len(times))
	x := x0.Clone()
	t := 0.0
	for i, target := range times {
		if target < t {
			return nil, &SimulationError{Step: i, Time: target, State: x, Wrapped: ErrParameterBounds}
		}
		for t < target {
			dt := math.Min(maxDt, target-t)
			x = integ.Step(dyn, x, t, dt)
			t += dt
		}
		if !x.IsValid() {
			return nil, &SimulationError{Step: i, Time: t, State: x, Wrapped: ErrUnstable}
		}
		out[i] = x.Clone()
	}
	return out, nil
}

// AdaptiveTrajectory is Trajectory with step sizes chosen by integ to keep
// the local error within tol, still capped at maxDt.
func AdaptiveTrajectory(dyn System, integ AdaptiveIntegrator, x0 State, times []float64, maxDt, tol float64) ([]State, error) {
	if len(x0) != dyn.StateDim() {
		return nil, ErrDimensionMismatch
	}
	if maxDt <= 0 || tol <= 0 {
		return nil, ErrParameterBounds
	}

	out := make([]State, len(times))
	x := x0.Clone()
	t, h := 0.0, maxDt
	for i, target := range times {
		if target < t {
			return nil, &SimulationError{Step: i, Time: target, State: x, Wrapped: ErrParameterBounds}
		}
		for t < target {
			reach := target - t
			var taken float64
			x, taken, h = integ.StepAdaptive(dyn, x, t, math.Min(h, reach), tol)
			h = math.Min(h, maxDt)
			if taken >= reach {
				t = target
			} else {
				t += taken
			}
			if !x.IsValid() {
				return nil, &SimulationError{Step: i, Time: t, State: x, Wrapped: ErrUnstable}
			}
		}
		out[i] = x.Clone()
	}
	return out, nil
}
