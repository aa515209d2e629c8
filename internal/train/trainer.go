// Package train fits a DeepONet to a physics residual by minimising the
// opirmse loss over random mini-batches of collocation points.
package train

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/compute"
	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/optim"
	"github.com/san-kum/lorenzonet/internal/residual"
	"github.com/san-kum/lorenzonet/internal/sampling"
)

// Progress is a snapshot of the loss at one epoch.
type Progress struct {
	Epoch  int
	Epochs int
	Terms
	Loss    float64
	LR      float64
	Elapsed time.Duration
}

type Observer interface {
	OnEpoch(p Progress)
}

type ObserverFunc func(p Progress)

func (f ObserverFunc) OnEpoch(p Progress) { f(p) }

type Result struct {
	History  []Progress
	Final    Progress
	Duration time.Duration
}

// Trainer owns the optimizer state for one model.
type Trainer struct {
	cfg       Config
	opt       optim.Optimizer
	sched     optim.Scheduler
	backend   compute.Backend
	observers []Observer
}

func New(cfg Config, backend compute.Backend) (*Trainer, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: no compute backend", ErrInvalidConfig)
	}
	opt, err := optim.NewOptimizer(cfg.Optimizer, cfg.Adam)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	sched, err := optim.NewScheduler(cfg.LR, cfg.Scheduler)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Trainer{cfg: cfg, opt: opt, sched: sched, backend: backend}, nil
}

func (t *Trainer) AddObserver(o Observer) { t.observers = append(t.observers, o) }
func (t *Trainer) Config() Config         { return t.cfg }

func (t *Trainer) check(model *nn.DeepONet, op *residual.Operator) error {
	if op.InputsKey() != nn.InputTrunk {
		return fmt.Errorf("%w: residual is bound to %q, derivatives are only available for %q",
			ErrInvalidConfig, op.InputsKey(), nn.InputTrunk)
	}
	arch := model.Architecture()
	if len(op.Outputs()) != arch.VarDim {
		return fmt.Errorf("%w: residual declares %d outputs, model has %d", ErrInvalidConfig, len(op.Outputs()), arch.VarDim)
	}
	if arch.Branch.InputSize != arch.VarDim {
		return fmt.Errorf("%w: initial-condition term needs branch input %d to match outputs %d",
			ErrInvalidConfig, arch.Branch.InputSize, arch.VarDim)
	}
	return t.cfg.Validate(arch.VarDim, op.Len())
}

// Fit runs cfg.Epochs optimizer steps. Each epoch draws BatchSize rows of
// set with replacement from rng for the residual term; the initial-condition
// term covers all N initial states of set. A canceled ctx stops training at
// the next epoch boundary and returns the history so far with ctx.Err().
func (t *Trainer) Fit(ctx context.Context, model *nn.DeepONet, set *sampling.Set, op *residual.Operator, rng *rand.Rand) (*Result, error) {
	if err := t.check(model, op); err != nil {
		return nil, err
	}

	states := set.InitialStates()
	grads := t.gradBuffers(model, t.cfg.BatchSize, set.N)
	total := model.NewGradients()
	rows := make([]int, t.cfg.BatchSize)

	result := &Result{}
	start := time.Now()

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		for i := range rows {
			rows[i] = rng.Intn(set.Len())
		}
		branch, trunk := set.Batch(rows)

		terms, err := t.evaluate(ctx, model, op, branch, trunk, states, grads)
		if err != nil {
			result.Duration = time.Since(start)
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, &TrainingError{Epoch: epoch, Loss: terms.Total(), Wrapped: err}
		}

		total.Zero()
		for _, g := range grads {
			total.Add(g)
		}
		terms.Regularization = penalty(model.Params(), t.cfg.Lambda1, t.cfg.Lambda2, total)

		if !terms.finite() {
			result.Duration = time.Since(start)
			return result, &TrainingError{Epoch: epoch, Loss: terms.Total(), Wrapped: ErrDiverged}
		}

		lr := t.sched.LR(epoch)
		t.opt.Step(model.Params(), total, lr)

		last := epoch == t.cfg.Epochs-1
		if last || (t.cfg.LogEvery > 0 && epoch%t.cfg.LogEvery == 0) {
			p := Progress{
				Epoch:   epoch,
				Epochs:  t.cfg.Epochs,
				Terms:   terms,
				Loss:    terms.Total(),
				LR:      lr,
				Elapsed: time.Since(start),
			}
			result.History = append(result.History, p)
			result.Final = p
			for _, o := range t.observers {
				o.OnEpoch(p)
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Loss evaluates the loss without touching the model: the residual term on
// the given collocation rows, the initial-condition term on states.
func (t *Trainer) Loss(ctx context.Context, model *nn.DeepONet, op *residual.Operator, branch, trunk, states *mat.Dense) (Terms, error) {
	if err := t.check(model, op); err != nil {
		return Terms{}, err
	}
	terms, err := t.evaluate(ctx, model, op, branch, trunk, states, nil)
	if err != nil {
		return terms, err
	}
	terms.Regularization = penalty(model.Params(), t.cfg.Lambda1, t.cfg.Lambda2, nil)
	return terms, nil
}

// gradBuffers allocates one gradient buffer per chunk of the largest of the
// given row counts.
func (t *Trainer) gradBuffers(model *nn.DeepONet, rows ...int) []nn.Gradients {
	n := 0
	for _, r := range rows {
		n = max(n, len(compute.Chunks(r, t.cfg.MinChunk, t.backend.Workers())))
	}
	grads := make([]nn.Gradients, n)
	for i := range grads {
		grads[i] = model.NewGradients()
	}
	return grads
}

// evaluate fans the collocation rows and then the initial states out over
// the backend. grads, when non-nil, holds one buffer per chunk of either
// pass; all are reset first and both passes accumulate into them.
func (t *Trainer) evaluate(ctx context.Context, model *nn.DeepONet, op *residual.Operator, branch, trunk, states *mat.Dense, grads []nn.Gradients) (Terms, error) {
	n, bc := branch.Dims()
	rt, tc := trunk.Dims()
	if rt != n || n == 0 {
		return Terms{}, fmt.Errorf("%w: branch has %d rows, trunk %d", nn.ErrDimensionMismatch, n, rt)
	}
	ns, sc := states.Dims()
	if sc != bc || ns == 0 {
		return Terms{}, fmt.Errorf("%w: %d initial states of width %d, branch width %d", nn.ErrDimensionMismatch, ns, sc, bc)
	}
	for _, g := range grads {
		g.Zero()
	}
	chunkGrads := func(chunk int) nn.Gradients {
		if grads == nil {
			return nil
		}
		return grads[chunk]
	}

	rparts := make([]Terms, len(compute.Chunks(n, t.cfg.MinChunk, t.backend.Workers())))
	err := t.backend.Run(ctx, n, t.cfg.MinChunk, func(ctx context.Context, chunk, start, end int) error {
		b := branch.Slice(start, end, 0, bc).(*mat.Dense)
		tr := trunk.Slice(start, end, 0, tc).(*mat.Dense)
		terms, err := residualLoss(model, op, t.cfg, b, tr, float64(n), chunkGrads(chunk))
		rparts[chunk] = terms
		return err
	})
	if err != nil {
		return sumTerms(rparts), err
	}

	zeros := mat.NewDense(ns, tc, nil)
	iparts := make([]Terms, len(compute.Chunks(ns, t.cfg.MinChunk, t.backend.Workers())))
	err = t.backend.Run(ctx, ns, t.cfg.MinChunk, func(ctx context.Context, chunk, start, end int) error {
		s := states.Slice(start, end, 0, sc).(*mat.Dense)
		z := zeros.Slice(start, end, 0, tc).(*mat.Dense)
		terms, err := initialLoss(model, t.cfg, s, z, float64(ns), chunkGrads(chunk))
		iparts[chunk] = terms
		return err
	})

	terms := sumTerms(rparts)
	terms.add(sumTerms(iparts))
	return terms, err
}

func sumTerms(parts []Terms) Terms {
	var terms Terms
	for _, p := range parts {
		terms.add(p)
	}
	return terms
}
