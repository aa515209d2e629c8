// Package experiment wires sampling, the DeepONet, the physics residual and
// the trainer into one reproducible run, then evaluates the trained network
// against a classical reference solution.
package experiment

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/san-kum/lorenzonet/internal/compute"
	"github.com/san-kum/lorenzonet/internal/config"
	"github.com/san-kum/lorenzonet/internal/dynamo"
	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/physics"
	"github.com/san-kum/lorenzonet/internal/residual"
	"github.com/san-kum/lorenzonet/internal/sampling"
	"github.com/san-kum/lorenzonet/internal/storage"
	"github.com/san-kum/lorenzonet/internal/train"
)

type Experiment struct {
	cfg       *config.Config
	seed      int64
	registry  *Registry
	system    physics.System
	integ     dynamo.Integrator
	op        *residual.Operator
	backend   compute.Backend
	store     *storage.Store
	observers []train.Observer
}

// Run is a trained model together with everything needed to evaluate it.
type Run struct {
	Model   *nn.DeepONet
	Samples *sampling.Set
	Result  *train.Result
	Meta    *storage.Metadata
}

// New resolves the seed: a zero cfg.Seed is replaced by one taken from the
// clock, and Seed reports the value actually used.
func New(cfg *config.Config) *Experiment {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Experiment{cfg: cfg, seed: seed, registry: NewRegistry()}
}

func (e *Experiment) Seed() int64              { return e.seed }
func (e *Experiment) Config() *config.Config   { return e.cfg }
func (e *Experiment) Store() *storage.Store    { return e.store }
func (e *Experiment) Backend() compute.Backend { return e.backend }

func (e *Experiment) AddObserver(o train.Observer) { e.observers = append(e.observers, o) }

// Close releases the compute backend.
func (e *Experiment) Close() {
	if e.backend != nil {
		e.backend.Cleanup()
	}
}

// Setup validates the configuration and builds the parts shared by
// training and evaluation.
func (e *Experiment) Setup() error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	sys, err := e.registry.GetSystem(e.cfg.System, e.cfg.Residual.Constants)
	if err != nil {
		return err
	}
	integ, err := e.registry.GetIntegrator(e.cfg.Output.Integrator)
	if err != nil {
		return err
	}
	if _, ok := integ.(dynamo.AdaptiveIntegrator); e.cfg.Output.Tolerance > 0 && !ok {
		return fmt.Errorf("integrator %s has no error control, tolerance %g cannot apply", e.cfg.Output.Integrator, e.cfg.Output.Tolerance)
	}
	op, err := residual.New(e.cfg.Residual.Spec())
	if err != nil {
		return err
	}
	backend, err := compute.New(e.cfg.Backend, e.cfg.Workers)
	if err != nil {
		return err
	}

	e.system, e.integ, e.op, e.backend = sys, integ, op, backend
	e.store = storage.New(e.cfg.Output.SavePath)
	return e.store.Init()
}

// Samples regenerates the collocation set for seed. Sampling is the first
// use of the seeded source, so a saved model's seed reproduces its data.
func (e *Experiment) Samples(seed int64) (*sampling.Set, *rand.Rand, error) {
	rng := rand.New(rand.NewSource(seed))
	s := e.cfg.Sampling
	set, err := sampling.Generate(s.Bounds(), s.Q, s.N, s.TestState, rng)
	if err != nil {
		return nil, nil, err
	}
	return set, rng, nil
}

// Train samples the data, builds a fresh model and fits it. The trained
// model is saved under the configured name unless training fails.
func (e *Experiment) Train(ctx context.Context) (*Run, error) {
	if e.store == nil {
		return nil, fmt.Errorf("experiment not setup")
	}

	set, rng, err := e.Samples(e.seed)
	if err != nil {
		return nil, err
	}
	model, err := nn.NewDeepONet(e.cfg.Model, rng)
	if err != nil {
		return nil, err
	}

	trainer, err := train.New(e.cfg.Training, e.backend)
	if err != nil {
		return nil, err
	}
	for _, o := range e.observers {
		trainer.AddObserver(o)
	}

	result, err := trainer.Fit(ctx, model, set, e.op, rng)
	if err != nil {
		return &Run{Model: model, Samples: set, Result: result}, err
	}

	meta, err := e.store.SaveModel(e.cfg.Output.ModelName, model, result.History, storage.Metadata{
		System:       e.cfg.System,
		Seed:         e.seed,
		Backend:      e.backend.Name(),
		Epochs:       e.cfg.Training.Epochs,
		FinalLoss:    result.Final.Loss,
		TrainSeconds: result.Duration.Seconds(),
		Config:       e.summary(),
	})
	if err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	return &Run{Model: model, Samples: set, Result: result, Meta: meta}, nil
}

// Run trains, saves and evaluates.
func (e *Experiment) Run(ctx context.Context) (*Run, *Evaluation, error) {
	run, err := e.Train(ctx)
	if err != nil {
		return run, nil, err
	}
	ev, err := e.Evaluate(ctx, run.Model, run.Samples, run.Result.History)
	return run, ev, err
}

func (e *Experiment) summary() map[string]float64 {
	c := e.cfg
	return map[string]float64{
		"q":               float64(c.Sampling.Q),
		"n":               float64(c.Sampling.N),
		"t_min":           c.Sampling.TimeInterval[0],
		"t_max":           c.Sampling.TimeInterval[1],
		"lr":              c.Training.LR,
		"gamma":           c.Training.Scheduler.Gamma,
		"decay_frequency": float64(c.Training.Scheduler.DecayFrequency),
		"batch_size":      float64(c.Training.BatchSize),
		"lambda_1":        c.Training.Lambda1,
		"lambda_2":        c.Training.Lambda2,
		"latent":          float64(c.Model.Latent),
	}
}
