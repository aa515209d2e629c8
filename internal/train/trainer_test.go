package train

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/san-kum/lorenzonet/internal/compute"
	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/optim"
	"github.com/san-kum/lorenzonet/internal/physics"
	"github.com/san-kum/lorenzonet/internal/residual"
	"github.com/san-kum/lorenzonet/internal/sampling"
)

func tinyArchitecture() nn.Architecture {
	return nn.Architecture{
		Name:         "tiny",
		Latent:       2,
		VarDim:       3,
		EncoderWidth: 5,
		Activation:   "tanh",
		Trunk:        nn.NetConfig{Name: "trunk", Units: []int{5, 5}, Activation: "tanh", InputSize: 1, OutputSize: 6},
		Branch:       nn.NetConfig{Name: "branch", Units: []int{5, 5}, Activation: "tanh", InputSize: 3, OutputSize: 6},
		Bias:         true,
	}
}

func tinyConfig() Config {
	cfg := DefaultConfig()
	cfg.LR = 1e-2
	cfg.Scheduler = optim.SchedulerParams{Name: "constant"}
	cfg.Epochs = 500
	cfg.BatchSize = 32
	cfg.LogEvery = 100
	cfg.MinChunk = 8
	return cfg
}

func smallSet(t *testing.T, seed int64) *sampling.Set {
	t.Helper()
	b := sampling.Bounds{
		T:     [2]float64{0, 1},
		Lower: [3]float64{-1, -1, -1},
		Upper: [3]float64{1, 1, 1},
	}
	s, err := sampling.Generate(b, 10, 8, [3]float64{1, 0, 0}, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return s
}

// constant trajectories: every output keeps its initial value
func steadyOperator(t *testing.T) *residual.Operator {
	t.Helper()
	op, err := residual.New(residual.Spec{
		Expressions: []string{"D(x, t)", "D(y, t)", "D(z, t)"},
		Inputs:      []string{"t"},
		Outputs:     []string{"x", "y", "z"},
		InputsKey:   nn.InputTrunk,
	})
	if err != nil {
		t.Fatalf("operator: %v", err)
	}
	return op
}

func lorenzOperator(t *testing.T, key string) *residual.Operator {
	t.Helper()
	l := physics.NewLorenz()
	op, err := residual.New(residual.Spec{
		Expressions: l.Residuals(),
		Inputs:      []string{"t"},
		Outputs:     l.Variables(),
		Constants:   l.GetParams(),
		InputsKey:   key,
	})
	if err != nil {
		t.Fatalf("operator: %v", err)
	}
	return op
}

func newModel(t *testing.T, seed int64) *nn.DeepONet {
	t.Helper()
	m, err := nn.NewDeepONet(tinyArchitecture(), rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	return m
}

func newTrainer(t *testing.T, cfg Config) *Trainer {
	t.Helper()
	backend, err := compute.New("cpu", 2)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	tr, err := New(cfg, backend)
	if err != nil {
		t.Fatalf("trainer: %v", err)
	}
	return tr
}

func TestFitLowersLoss(t *testing.T) {
	set := smallSet(t, 1)
	model := newModel(t, 2)
	op := steadyOperator(t)
	tr := newTrainer(t, tinyConfig())

	branch, trunk, states := set.BranchTrain(), set.TrunkTrain(), set.InitialStates()
	before, err := tr.Loss(context.Background(), model, op, branch, trunk, states)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}

	res, err := tr.Fit(context.Background(), model, set, op, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}

	after, err := tr.Loss(context.Background(), model, op, branch, trunk, states)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if after.Total() >= before.Total()/2 {
		t.Errorf("expected loss to at least halve, got %f -> %f", before.Total(), after.Total())
	}
	if res.Final.Epoch != 499 {
		t.Errorf("expected final epoch 499, got %d", res.Final.Epoch)
	}
}

func TestFitReportsProgress(t *testing.T) {
	g := NewWithT(t)
	cfg := tinyConfig()
	cfg.Epochs = 25
	cfg.LogEvery = 10

	tr := newTrainer(t, cfg)
	var seen []int
	tr.AddObserver(ObserverFunc(func(p Progress) {
		seen = append(seen, p.Epoch)
		g.Expect(p.Epochs).To(Equal(25))
		g.Expect(p.LR).To(BeNumerically("~", 1e-2, 1e-15))
		g.Expect(p.Loss).To(BeNumerically("~", p.Residual+p.Initial+p.Regularization, 1e-12))
	}))

	res, err := tr.Fit(context.Background(), newModel(t, 4), smallSet(t, 5), steadyOperator(t), rand.New(rand.NewSource(6)))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(seen).To(Equal([]int{0, 10, 20, 24}))
	g.Expect(res.History).To(HaveLen(4))
	g.Expect(res.Final.Epoch).To(Equal(24))
}

func TestFitDiverges(t *testing.T) {
	model := newModel(t, 7)
	model.Params()[0].Value[0] = math.NaN()

	tr := newTrainer(t, tinyConfig())
	_, err := tr.Fit(context.Background(), model, smallSet(t, 8), steadyOperator(t), rand.New(rand.NewSource(9)))
	if !errors.Is(err, ErrDiverged) {
		t.Fatalf("expected ErrDiverged, got %v", err)
	}
	var te *TrainingError
	if !errors.As(err, &te) || te.Epoch != 0 {
		t.Errorf("expected TrainingError at epoch 0, got %v", err)
	}
}

func TestFitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newTrainer(t, tinyConfig())
	res, err := tr.Fit(ctx, newModel(t, 10), smallSet(t, 11), steadyOperator(t), rand.New(rand.NewSource(12)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.History) != 0 {
		t.Errorf("expected empty history, got %d entries", len(res.History))
	}
}

func TestFitRejectsBranchKey(t *testing.T) {
	tr := newTrainer(t, tinyConfig())
	_, err := tr.Fit(context.Background(), newModel(t, 13), smallSet(t, 14), lorenzOperator(t, nn.InputBranch), rand.New(rand.NewSource(15)))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"unknown loss", func(c *Config) { c.Loss = "mse" }, ErrUnknownLoss},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }, ErrInvalidConfig},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, ErrInvalidConfig},
		{"short residual weights", func(c *Config) { c.WeightsResidual = []float64{1} }, ErrInvalidConfig},
		{"long ic weights", func(c *Config) { c.Weights = []float64{1, 1, 1, 1} }, ErrInvalidConfig},
		{"negative lambda", func(c *Config) { c.Lambda2 = -1 }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(3, 3); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if err := DefaultConfig().Validate(3, 3); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestNewRejectsUnknownOptimizer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Optimizer = "sgd"
	_, err := New(cfg, compute.NewCPUBackend(1))
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, optim.ErrUnknownOptimizer) {
		t.Errorf("expected ErrInvalidConfig wrapping ErrUnknownOptimizer, got %v", err)
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	cfg := tinyConfig()
	cfg.Lambda1 = 1e-3
	cfg.Lambda2 = 1e-2
	cfg.MinChunk = 4
	tr := newTrainer(t, cfg)

	model := newModel(t, 16)
	op := lorenzOperator(t, nn.InputTrunk)
	set := smallSet(t, 17)
	branch, trunk := set.Batch([]int{0, 3, 9, 17, 22, 40, 41, 63, 70, 79})
	states := set.InitialStates()
	ctx := context.Background()

	n, _ := branch.Dims()
	chunks := tr.gradBuffers(model, n, set.N)
	if len(chunks) < 2 {
		t.Fatalf("expected the batch to be split, got %d chunk", len(chunks))
	}
	if _, err := tr.evaluate(ctx, model, op, branch, trunk, states, chunks); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	grads := model.NewGradients()
	for _, g := range chunks {
		grads.Add(g)
	}
	penalty(model.Params(), cfg.Lambda1, cfg.Lambda2, grads)

	loss := func() float64 {
		terms, err := tr.Loss(ctx, model, op, branch, trunk, states)
		if err != nil {
			t.Fatalf("loss: %v", err)
		}
		return terms.Total()
	}

	const h = 1e-6
	for k, p := range model.Params() {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + h
			up := loss()
			p.Value[i] = orig - h
			down := loss()
			p.Value[i] = orig

			want := (up - down) / (2 * h)
			got := grads[k][i]
			if math.Abs(got-want) > 1e-4*math.Max(1, math.Abs(want)) {
				t.Errorf("%s[%d]: analytic %g, numeric %g", p.Name, i, got, want)
			}
		}
	}
}

func TestInitialTermCoversEveryState(t *testing.T) {
	g := NewWithT(t)
	set := smallSet(t, 18)
	model := newModel(t, 19)

	y0, err := model.Eval(set.InitialTrunk(), set.InitialStates())
	g.Expect(err).NotTo(HaveOccurred())
	want := 0.0
	for i, s := range set.Us {
		for k := range s {
			e := y0.At(i, k) - s[k]
			want += e * e / float64(set.N)
		}
	}

	// a single-row batch touches one state; the term must still average all N
	cfg := tinyConfig()
	cfg.BatchSize = 1
	cfg.Epochs = 1
	cfg.MinChunk = 3
	tr := newTrainer(t, cfg)
	res, err := tr.Fit(context.Background(), model, set, steadyOperator(t), rand.New(rand.NewSource(20)))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(res.Final.Initial).To(BeNumerically("~", want, 1e-12))
}

func TestLossAppliesWeights(t *testing.T) {
	g := NewWithT(t)
	set := smallSet(t, 21)
	model := newModel(t, 22)

	cfg := tinyConfig()
	cfg.WeightsResidual = []float64{2, 0, 1}
	cfg.Weights = []float64{0.5, 3, 0}
	cfg.Lambda1 = 0.01
	cfg.Lambda2 = 0.1
	cfg.MinChunk = 4
	tr := newTrainer(t, cfg)

	branch, trunk := set.Batch([]int{1, 4, 15, 27, 33, 52, 60, 78})
	states := set.InitialStates()

	// steady residuals are the time derivatives themselves
	_, dy, err := model.EvalWithDerivative(trunk, branch)
	g.Expect(err).NotTo(HaveOccurred())
	n, _ := branch.Dims()
	var residual float64
	for i := 0; i < n; i++ {
		for k, w := range cfg.WeightsResidual {
			residual += w * dy.At(i, k) * dy.At(i, k) / float64(n)
		}
	}

	y0, err := model.Eval(set.InitialTrunk(), states)
	g.Expect(err).NotTo(HaveOccurred())
	var initial float64
	for i := 0; i < set.N; i++ {
		for k, w := range cfg.Weights {
			e := y0.At(i, k) - states.At(i, k)
			initial += w * e * e / float64(set.N)
		}
	}

	var reg float64
	for _, p := range model.Params() {
		for _, v := range p.Value {
			reg += cfg.Lambda1*math.Abs(v) + cfg.Lambda2*v*v
		}
	}

	terms, err := tr.Loss(context.Background(), model, steadyOperator(t), branch, trunk, states)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(terms.Residual).To(BeNumerically("~", residual, 1e-12))
	g.Expect(terms.Initial).To(BeNumerically("~", initial, 1e-12))
	g.Expect(terms.Regularization).To(BeNumerically("~", reg, 1e-12))
	g.Expect(terms.Total()).To(BeNumerically("~", residual+initial+reg, 1e-12))
}

func TestLossRejectsMismatchedStates(t *testing.T) {
	set := smallSet(t, 23)
	tr := newTrainer(t, tinyConfig())
	branch, trunk := set.Batch([]int{0, 1})
	_, err := tr.Loss(context.Background(), newModel(t, 24), steadyOperator(t), branch, trunk, set.InitialTrunk())
	if !errors.Is(err, nn.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
