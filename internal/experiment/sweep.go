package experiment

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/optim"
	"github.com/san-kum/lorenzonet/internal/train"
)

// Sweep trains a short run for every (lr, gamma) pair and scores it by the
// loss on the test trajectory, anchored at the test state. Every trial sees
// the same samples and the same initial weights. epochs <= 0 keeps the
// configured epoch count.
func (e *Experiment) Sweep(ctx context.Context, lrs, gammas []float64, epochs int) (map[string]float64, float64, []optim.Trial, error) {
	if e.store == nil {
		return nil, 0, nil, fmt.Errorf("experiment not setup")
	}
	set, _, err := e.Samples(e.seed)
	if err != nil {
		return nil, 0, nil, err
	}
	branch, trunk := set.BranchTest(), set.TrunkTest()
	initial := mat.NewDense(1, 3, set.TestState[:])

	gs := optim.NewGridSearch([]string{"lr", "gamma"}, [][]float64{lrs, gammas})
	return gs.Search(ctx, func(ctx context.Context, p map[string]float64) (float64, error) {
		cfg := e.cfg.Training
		cfg.LR = p["lr"]
		cfg.Scheduler.Name = "ExponentialLR"
		cfg.Scheduler.Gamma = p["gamma"]
		if epochs > 0 {
			cfg.Epochs = epochs
		}
		cfg.LogEvery = 0

		rng := rand.New(rand.NewSource(e.seed + 1))
		model, err := nn.NewDeepONet(e.cfg.Model, rng)
		if err != nil {
			return 0, err
		}
		trainer, err := train.New(cfg, e.backend)
		if err != nil {
			return 0, err
		}
		if _, err := trainer.Fit(ctx, model, set, e.op, rng); err != nil {
			return 0, err
		}
		terms, err := trainer.Loss(ctx, model, e.op, branch, trunk, initial)
		if err != nil {
			return 0, err
		}
		return terms.Total(), nil
	})
}
