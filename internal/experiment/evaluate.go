package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/analysis"
	"github.com/san-kum/lorenzonet/internal/dynamo"
	"github.com/san-kum/lorenzonet/internal/export"
	"github.com/san-kum/lorenzonet/internal/metrics"
	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/sampling"
	"github.com/san-kum/lorenzonet/internal/storage"
	"github.com/san-kum/lorenzonet/internal/train"
	"github.com/san-kum/lorenzonet/internal/viz"
)

// Lyapunov estimate of the reference system, from the test state.
const (
	lyapunovDt        = 0.01
	lyapunovTransient = 10.0
	lyapunovDuration  = 50.0
	lyapunovD0        = 1e-8
)

// Evaluation compares the network on the test trajectory with the
// reference solution.
type Evaluation struct {
	Initial   dynamo.State
	Times     []float64
	Predicted *mat.Dense
	Reference *mat.Dense
	Residuals *mat.Dense
	Metrics   map[string]float64
	Files     []string
}

// Evaluate runs the model over the sorted test times from the fixed test
// state, solves the same problem with the reference integrator, scores
// the difference and writes plots and a JSON export into the plot
// directory. Metrics are merged into the saved metadata when the model has
// been saved.
func (e *Experiment) Evaluate(ctx context.Context, model *nn.DeepONet, set *sampling.Set, history []train.Progress) (*Evaluation, error) {
	if e.store == nil {
		return nil, fmt.Errorf("experiment not setup")
	}

	trunk := set.TrunkTest()
	branch := set.BranchTest()
	pred, dy, err := model.EvalWithDerivative(trunk, branch)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	times := mat.Col(nil, 0, trunk)
	x0 := dynamo.State(set.TestState[:]).Clone()
	states, err := e.reference(x0, times)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	ref := mat.NewDense(len(states), e.system.StateDim(), nil)
	for i, s := range states {
		ref.SetRow(i, s)
	}

	ev := &Evaluation{Initial: x0.Clone(), Times: times, Predicted: pred, Reference: ref}

	s := e.cfg.Sampling
	ms := e.registry.DefaultMetrics(e.op.Outputs(), s.StateLower, s.StateUpper)
	ev.Metrics = metrics.Evaluate(ms, times, pred, ref)

	if ev.Residuals, err = e.op.Residuals(trunk, pred, dy); err != nil {
		return nil, err
	}
	for k, v := range metrics.ResidualRMS(ev.Residuals) {
		ev.Metrics[fmt.Sprintf("residual_rms_%d", k)] = v
	}
	ev.Metrics["residual_mean_abs"] = metrics.MeanAbs(ev.Residuals)

	lambda, err := analysis.LargestLyapunov(e.system, e.integ, x0, lyapunovDt, lyapunovTransient, lyapunovDuration, lyapunovD0)
	if err != nil {
		return nil, fmt.Errorf("lyapunov: %w", err)
	}
	ev.Metrics["lyapunov_exponent"] = lambda
	if lt := analysis.LyapunovTime(lambda); !math.IsInf(lt, 1) && len(times) > 0 {
		ev.Metrics["lyapunov_time"] = lt
		ev.Metrics["horizon_lyapunov_times"] = (times[len(times)-1] - times[0]) / lt
	}

	if err := e.writeArtifacts(ev, history); err != nil {
		return ev, err
	}

	if err := e.store.UpdateMetrics(e.cfg.Output.ModelName, ev.Metrics); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return ev, err
	}
	return ev, nil
}

// reference solves the test problem classically, with error control when a
// tolerance is configured.
func (e *Experiment) reference(x0 dynamo.State, times []float64) ([]dynamo.State, error) {
	o := e.cfg.Output
	if ai, ok := e.integ.(dynamo.AdaptiveIntegrator); ok && o.Tolerance > 0 {
		return dynamo.AdaptiveTrajectory(e.system, ai, x0, times, o.ReferenceDt, o.Tolerance)
	}
	return dynamo.Trajectory(e.system, e.integ, x0, times, o.ReferenceDt)
}

func (e *Experiment) writeArtifacts(ev *Evaluation, history []train.Progress) error {
	dir := e.cfg.Output.PlotDir
	name := e.cfg.Output.ModelName
	outputs := e.op.Outputs()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	plots, err := viz.PlotChannels(dir, name, ev.Times, ev.Predicted, ev.Reference, outputs)
	ev.Files = append(ev.Files, plots...)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}

	if len(outputs) >= 3 {
		predP, err := analysis.NewPortrait(ev.Predicted, 0, 2)
		if err != nil {
			return err
		}
		refP, err := analysis.NewPortrait(ev.Reference, 0, 2)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name+"_phase.svg")
		series := []export.Series{
			{Label: "Reference", Color: "#ff7f0e", Dashed: true, Portrait: refP},
			{Label: "Approximated", Color: "#1f77b4", Portrait: predP},
		}
		if err := export.WritePhaseSVG(path, series, 640, 480, outputs[0], outputs[2]); err != nil {
			return err
		}
		ev.Files = append(ev.Files, path)
	}

	if len(history) > 0 {
		epochs := make([]int, len(history))
		loss := make([]float64, len(history))
		for i, p := range history {
			epochs[i], loss[i] = p.Epoch, p.Loss
		}
		path := filepath.Join(dir, name+"_loss.png")
		if err := viz.PlotLoss(path, epochs, loss); err != nil {
			return fmt.Errorf("plot: %w", err)
		}
		ev.Files = append(ev.Files, path)
	}

	path := filepath.Join(dir, name+"_trajectory.json")
	err = storage.ExportJSONFile(path, storage.TrajectoryExport{
		Model:        name,
		InitialState: ev.Initial,
		Times:        ev.Times,
		Predicted:    rows(ev.Predicted),
		Reference:    rows(ev.Reference),
		Metrics:      ev.Metrics,
	})
	if err != nil {
		return err
	}
	ev.Files = append(ev.Files, path)
	return nil
}

func rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

// EvaluateSaved reloads a saved model, regenerates its test trajectory
// from the stored seed and evaluates it.
func (e *Experiment) EvaluateSaved(ctx context.Context) (*Evaluation, *storage.Metadata, error) {
	if e.store == nil {
		return nil, nil, fmt.Errorf("experiment not setup")
	}
	name := e.cfg.Output.ModelName

	model, meta, err := e.store.LoadModel(name)
	if err != nil {
		return nil, nil, err
	}
	if meta.System != "" && meta.System != e.cfg.System {
		return nil, meta, fmt.Errorf("%s was trained on %s, config selects %s", name, meta.System, e.cfg.System)
	}

	set, _, err := e.Samples(meta.Seed)
	if err != nil {
		return nil, meta, err
	}
	history, err := e.store.LoadHistory(name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, meta, err
	}

	ev, err := e.Evaluate(ctx, model, set, history)
	return ev, meta, err
}
