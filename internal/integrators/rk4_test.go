package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/lorenzonet/internal/dynamo"
	"github.com/san-kum/lorenzonet/internal/physics"
)

type harmonicOscillator struct{}

func (h *harmonicOscillator) StateDim() int { return 2 }

func (h *harmonicOscillator) Derive(x dynamo.State, t float64) dynamo.State {
	return dynamo.State{x[1], -x[0]}
}

func TestRK4Accuracy(t *testing.T) {
	dyn := &harmonicOscillator{}
	integ := NewRK4()

	x := dynamo.State{1.0, 0.0}
	dt := 0.01
	steps := 100

	for i := 0; i < steps; i++ {
		x = integ.Step(dyn, x, float64(i)*dt, dt)
	}

	expectedX := math.Cos(float64(steps) * dt)
	expectedV := -math.Sin(float64(steps) * dt)

	if math.Abs(x[0]-expectedX) > 1e-4 {
		t.Errorf("position error too large: got %.6f, expected %.6f", x[0], expectedX)
	}

	if math.Abs(x[1]-expectedV) > 1e-4 {
		t.Errorf("velocity error too large: got %.6f, expected %.6f", x[1], expectedV)
	}
}

func TestLorenzTrajectoryConverges(t *testing.T) {
	dyn := physics.NewLorenz()
	times := []float64{0, 0.25, 0.5, 0.75, 1.0}

	coarse, err := dynamo.Trajectory(dyn, NewRK4(), dyn.DefaultState(), times, 1e-3)
	if err != nil {
		t.Fatalf("coarse trajectory: %v", err)
	}
	fine, err := dynamo.Trajectory(dyn, NewRK4(), dyn.DefaultState(), times, 2.5e-4)
	if err != nil {
		t.Fatalf("fine trajectory: %v", err)
	}

	for i := range times {
		if !coarse[i].IsValid() {
			t.Fatalf("invalid state at t=%.2f", times[i])
		}
		if diff := coarse[i].Sub(fine[i]).Norm(); diff > 1e-6 {
			t.Errorf("t=%.2f: coarse and fine differ by %e", times[i], diff)
		}
	}
}

func TestTrajectoryRejectsUnsortedTimes(t *testing.T) {
	dyn := physics.NewLorenz()
	_, err := dynamo.Trajectory(dyn, NewRK4(), dyn.DefaultState(), []float64{0.5, 0.1}, 1e-3)
	if err == nil {
		t.Fatal("expected error for decreasing times")
	}
}

func TestDOPRI5Accuracy(t *testing.T) {
	dyn := &harmonicOscillator{}
	integ := NewDOPRI5()

	x := dynamo.State{1.0, 0.0}
	dt := 0.1
	for i := 0; i < 10; i++ {
		x = integ.Step(dyn, x, float64(i)*dt, dt)
	}

	if math.Abs(x[0]-math.Cos(1)) > 1e-7 || math.Abs(x[1]+math.Sin(1)) > 1e-7 {
		t.Errorf("expected (cos 1, -sin 1), got %v", x)
	}
}

func TestDOPRI5AgreesWithRK4OnLorenz(t *testing.T) {
	dyn := physics.NewLorenz()
	times := []float64{0.1, 0.5, 1.0}

	rk4, err := dynamo.Trajectory(dyn, NewRK4(), dyn.DefaultState(), times, 1e-3)
	if err != nil {
		t.Fatal(err)
	}
	dp, err := dynamo.Trajectory(dyn, NewDOPRI5(), dyn.DefaultState(), times, 1e-3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range times {
		if diff := rk4[i].Sub(dp[i]).Norm(); diff > 1e-6 {
			t.Errorf("t=%.1f: solutions differ by %g", times[i], diff)
		}
	}
}

func TestDOPRI5StepControl(t *testing.T) {
	dyn := &harmonicOscillator{}
	integ := NewDOPRI5()

	_, taken, grow := integ.StepAdaptive(dyn, dynamo.State{1, 0}, 0, 1e-3, 1e-6)
	if taken != 1e-3 || grow <= 1e-3 {
		t.Errorf("expected the step accepted and grown, took %g, next %g", taken, grow)
	}
	_, same, next := integ.StepAdaptive(dyn, dynamo.State{1, 0}, 0, 0.5, 0)
	if same != 0.5 || next != 0.5 {
		t.Errorf("expected dt unchanged without tolerance, took %g, next %g", same, next)
	}
}

func TestDOPRI5RetriesRejectedStep(t *testing.T) {
	dyn := &harmonicOscillator{}
	integ := NewDOPRI5()

	x, taken, _ := integ.StepAdaptive(dyn, dynamo.State{1, 0}, 0, 2.0, 1e-10)
	if taken >= 2.0 {
		t.Fatalf("expected a shorter step than requested, took %g", taken)
	}
	// the returned state belongs to the step actually taken
	if math.Abs(x[0]-math.Cos(taken)) > 1e-8 || math.Abs(x[1]+math.Sin(taken)) > 1e-8 {
		t.Errorf("state %v does not match the exact solution at t=%g", x, taken)
	}
}

func TestAdaptiveTrajectory(t *testing.T) {
	dyn := &harmonicOscillator{}
	times := []float64{0.5, 1, 3}

	states, err := dynamo.AdaptiveTrajectory(dyn, NewDOPRI5(), dynamo.State{1, 0}, times, 0.5, 1e-10)
	if err != nil {
		t.Fatal(err)
	}
	for i, tt := range times {
		if math.Abs(states[i][0]-math.Cos(tt)) > 1e-7 || math.Abs(states[i][1]+math.Sin(tt)) > 1e-7 {
			t.Errorf("t=%g: expected (cos t, -sin t), got %v", tt, states[i])
		}
	}

	if _, err := dynamo.AdaptiveTrajectory(dyn, NewDOPRI5(), dynamo.State{1, 0}, times, 0.5, 0); !errors.Is(err, dynamo.ErrParameterBounds) {
		t.Errorf("expected ErrParameterBounds for zero tolerance, got %v", err)
	}
}
