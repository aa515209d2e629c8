package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func smallArchitecture() Architecture {
	return Architecture{
		Name:         "small",
		Latent:       2,
		VarDim:       3,
		EncoderWidth: 4,
		Activation:   "tanh",
		Trunk:        NetConfig{Name: "trunk", Units: []int{5, 4, 4}, Activation: "tanh", InputSize: 1, OutputSize: 6},
		Branch:       NetConfig{Name: "branch", Units: []int{3, 4, 4}, Activation: "tanh", InputSize: 3, OutputSize: 6},
		Bias:         true,
	}
}

func smallInputs(rng *rand.Rand, rows int) (trunk, branch *mat.Dense) {
	trunk = mat.NewDense(rows, 1, nil)
	branch = mat.NewDense(rows, 3, nil)
	for i := 0; i < rows; i++ {
		trunk.Set(i, 0, rng.Float64())
		for j := 0; j < 3; j++ {
			branch.Set(i, j, 2*rng.Float64()-1)
		}
	}
	return trunk, branch
}

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

// weighted sum of outputs and output derivatives
func weightedLoss(t *testing.T, m *DeepONet, trunk, branch, a, b *mat.Dense) float64 {
	t.Helper()
	y, _, err := m.Forward(Inputs{InputTrunk: trunk, InputBranch: branch})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	return mat.Sum(elemMul(y.V, a)) + mat.Sum(elemMul(y.D, b))
}

func elemMul(x, y *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.MulElem(x, y)
	return &out
}

func TestDefaultArchitectureValid(t *testing.T) {
	arch := DefaultArchitecture()
	if err := arch.Validate(); err != nil {
		t.Fatalf("default architecture invalid: %v", err)
	}
	if arch.Trunk.OutputSize != 300 || arch.Branch.OutputSize != 300 {
		t.Errorf("expected 300 outputs per network, got %d/%d", arch.Trunk.OutputSize, arch.Branch.OutputSize)
	}
	if len(arch.Trunk.Units) != 6 || arch.Trunk.Units[0] != 100 {
		t.Errorf("expected 6x100 hidden layers, got %v", arch.Trunk.Units)
	}
}

func TestValidateRejectsMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Architecture)
		want   error
	}{
		{"encoder width", func(a *Architecture) { a.EncoderWidth = 7 }, ErrDimensionMismatch},
		{"output size", func(a *Architecture) { a.Branch.OutputSize = 5 }, ErrDimensionMismatch},
		{"activation", func(a *Architecture) { a.Trunk.Activation = "relu6" }, ErrUnknownActivation},
		{"no layers", func(a *Architecture) { a.Trunk.Units = nil }, ErrInvalidArchitecture},
		{"zero latent", func(a *Architecture) { a.Latent = 0 }, ErrInvalidArchitecture},
	}

	for _, tt := range tests {
		arch := smallArchitecture()
		tt.mutate(&arch)
		if _, err := NewDeepONet(arch, rand.New(rand.NewSource(1))); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestEvalShapeAndInputChecks(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m, err := NewDeepONet(smallArchitecture(), rng)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	trunk, branch := smallInputs(rng, 9)
	y, err := m.Eval(trunk, branch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if r, c := y.Dims(); r != 9 || c != 3 {
		t.Errorf("expected 9x3 output, got %dx%d", r, c)
	}

	if _, err := m.Eval(branch, trunk); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch for swapped inputs, got %v", err)
	}
	if _, _, err := m.Forward(Inputs{InputTrunk: trunk}); !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}

func TestTimeDerivativeMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m, err := NewDeepONet(smallArchitecture(), rng)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	trunk, branch := smallInputs(rng, 5)
	_, dy, err := m.EvalWithDerivative(trunk, branch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}

	const h = 1e-5
	plus := mat.DenseCopyOf(trunk)
	minus := mat.DenseCopyOf(trunk)
	for i := 0; i < 5; i++ {
		plus.Set(i, 0, trunk.At(i, 0)+h)
		minus.Set(i, 0, trunk.At(i, 0)-h)
	}
	yp, _ := m.Eval(plus, branch)
	ym, _ := m.Eval(minus, branch)

	for i := 0; i < 5; i++ {
		for k := 0; k < 3; k++ {
			fd := (yp.At(i, k) - ym.At(i, k)) / (2 * h)
			if math.Abs(fd-dy.At(i, k)) > 1e-6*(1+math.Abs(fd)) {
				t.Errorf("row %d var %d: tangent %e, finite difference %e", i, k, dy.At(i, k), fd)
			}
		}
	}
}

func TestParameterGradientsMatchFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m, err := NewDeepONet(smallArchitecture(), rng)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// non-zero biases so their gradients are exercised away from the origin
	for _, p := range m.Params() {
		for i := range p.Value {
			p.Value[i] += 0.1 * rng.NormFloat64()
		}
	}

	trunk, branch := smallInputs(rng, 4)
	a := randomDense(rng, 4, 3)
	b := randomDense(rng, 4, 3)

	_, cache, err := m.Forward(Inputs{InputTrunk: trunk, InputBranch: branch})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	grads := m.NewGradients()
	m.Backward(cache, Dual{V: a, D: b}, grads)

	const h = 1e-6
	checked := 0
	for pi, p := range m.Params() {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + h
			lp := weightedLoss(t, m, trunk, branch, a, b)
			p.Value[i] = orig - h
			lm := weightedLoss(t, m, trunk, branch, a, b)
			p.Value[i] = orig

			fd := (lp - lm) / (2 * h)
			if math.Abs(fd-grads[pi][i]) > 1e-5*(1+math.Abs(fd)) {
				t.Errorf("%s[%d]: analytic %e, finite difference %e", p.Name, i, grads[pi][i], fd)
			}
			checked++
		}
	}
	if checked != m.NumParams() {
		t.Errorf("checked %d of %d parameters", checked, m.NumParams())
	}
}

func TestReleasedPassesAreRepeatable(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m, err := NewDeepONet(smallArchitecture(), rng)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	trunk, branch := smallInputs(rng, 6)
	a := randomDense(rng, 6, 3)
	b := randomDense(rng, 6, 3)

	pass := func() (*mat.Dense, Gradients) {
		out, cache, err := m.Forward(Inputs{InputTrunk: trunk, InputBranch: branch})
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		y := mat.DenseCopyOf(out.V)
		grads := m.NewGradients()
		m.Backward(cache, Dual{V: a, D: b}, grads)
		cache.Release()
		return y, grads
	}

	// the second pass draws the recycled matrices of the first
	y1, g1 := pass()
	y2, g2 := pass()
	if !mat.Equal(y1, y2) {
		t.Error("outputs differ after buffers were recycled")
	}
	for k := range g1 {
		for i := range g1[k] {
			if g1[k][i] != g2[k][i] {
				t.Fatalf("%s[%d]: gradient %g then %g", m.Params()[k].Name, i, g1[k][i], g2[k][i])
			}
		}
	}
}

func TestGradientsHelpers(t *testing.T) {
	g := Gradients{{1, 2}, {3}}
	o := Gradients{{1, 1}, {1}}
	g.Add(o)
	g.Scale(2)
	if g[0][0] != 4 || g[0][1] != 6 || g[1][0] != 8 {
		t.Errorf("unexpected gradients %v", g)
	}
	g.Zero()
	if g[0][1] != 0 || g[1][0] != 0 {
		t.Errorf("expected zeros, got %v", g)
	}
}

func TestActivationDerivatives(t *testing.T) {
	const h = 1e-5
	for _, name := range []string{"tanh", "sigmoid", "sin", "identity"} {
		act, err := ActivationByName(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for _, z := range []float64{-1.3, -0.2, 0, 0.7, 2.1} {
			_, d1, d2 := act.Eval(z)
			fp, d1p, _ := act.Eval(z + h)
			fm, d1m, _ := act.Eval(z - h)
			if math.Abs((fp-fm)/(2*h)-d1) > 1e-7 {
				t.Errorf("%s'(%g) mismatch", name, z)
			}
			if math.Abs((d1p-d1m)/(2*h)-d2) > 1e-7 {
				t.Errorf("%s''(%g) mismatch", name, z)
			}
		}
	}
}
