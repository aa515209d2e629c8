// Package nn implements the operator network trained by lorenzonet: an
// improved DeepONet whose trunk and branch are [ConvexNet]s gated by two
// single-layer encoders.
//
// Every forward pass carries, next to each activation, its derivative with
// respect to the trunk input (time). The model output therefore comes with
// dy/dt for free, which is what the physics residual consumes. The reverse
// pass propagates gradients through both streams, so a loss written in
// terms of y and dy/dt can be minimised directly.
package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Named inputs of the training contract.
const (
	InputBranch = "input_branch"
	InputTrunk  = "input_trunk"
)

// Architecture is the template a model is built from. It is stored next to
// saved weights so the model can be rebuilt on load.
type Architecture struct {
	Name         string    `yaml:"name"`
	Latent       int       `yaml:"latent"`
	VarDim       int       `yaml:"var_dim"`
	EncoderWidth int       `yaml:"encoder_width"`
	Activation   string    `yaml:"activation"`
	Trunk        NetConfig `yaml:"trunk"`
	Branch       NetConfig `yaml:"branch"`
	Bias         bool      `yaml:"bias"`
}

func DefaultArchitecture() Architecture {
	const (
		latent  = 100
		outputs = 3
		width   = 100
		depth   = 6
	)
	units := make([]int, depth)
	for i := range units {
		units[i] = width
	}
	return Architecture{
		Name:         "lorenz_net",
		Latent:       latent,
		VarDim:       outputs,
		EncoderWidth: width,
		Activation:   "tanh",
		Trunk: NetConfig{
			Name:       "trunk_net",
			Units:      units,
			Activation: "tanh",
			InputSize:  1,
			OutputSize: latent * outputs,
		},
		Branch: NetConfig{
			Name:       "branch_net",
			Units:      append([]int(nil), units...),
			Activation: "tanh",
			InputSize:  3,
			OutputSize: latent * outputs,
		},
		Bias: true,
	}
}

func (a Architecture) Validate() error {
	if a.Latent <= 0 || a.VarDim <= 0 || a.EncoderWidth <= 0 {
		return fmt.Errorf("%w: latent %d, var_dim %d, encoder_width %d", ErrInvalidArchitecture, a.Latent, a.VarDim, a.EncoderWidth)
	}
	if _, err := ActivationByName(a.Activation); err != nil {
		return err
	}
	for _, net := range []NetConfig{a.Trunk, a.Branch} {
		if err := net.validate(); err != nil {
			return err
		}
		if net.OutputSize != a.Latent*a.VarDim {
			return fmt.Errorf("%w: %s output %d, want latent*var_dim = %d", ErrDimensionMismatch, net.Name, net.OutputSize, a.Latent*a.VarDim)
		}
		for k := 1; k < len(net.Units); k++ {
			if net.Units[k] != a.EncoderWidth {
				return fmt.Errorf("%w: %s layer %d has %d units, encoders produce %d", ErrDimensionMismatch, net.Name, k, net.Units[k], a.EncoderWidth)
			}
		}
	}
	return nil
}

// String summarises the layer structure, one line per sub-network.
func (a Architecture) String() string {
	return fmt.Sprintf("%s: trunk %d→%v→%d, branch %d→%v→%d, encoders %d/%d→%d (%s), latent %d×%d",
		a.Name,
		a.Trunk.InputSize, a.Trunk.Units, a.Trunk.OutputSize,
		a.Branch.InputSize, a.Branch.Units, a.Branch.OutputSize,
		a.Trunk.InputSize, a.Branch.InputSize, a.EncoderWidth, a.Activation,
		a.Latent, a.VarDim)
}

type DeepONet struct {
	arch          Architecture
	Trunk         *ConvexNet
	Branch        *ConvexNet
	EncoderTrunk  *Dense
	EncoderBranch *Dense
	Bias          *mat.VecDense

	params   []Param
	biasSlot int
}

// NewDeepONet builds an untrained model from arch, drawing initial weights
// from rng.
func NewDeepONet(arch Architecture, rng *rand.Rand) (*DeepONet, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	act, _ := ActivationByName(arch.Activation)

	trunk, err := NewConvexNet(arch.Trunk, rng)
	if err != nil {
		return nil, err
	}
	branch, err := NewConvexNet(arch.Branch, rng)
	if err != nil {
		return nil, err
	}

	m := &DeepONet{
		arch:          arch,
		Trunk:         trunk,
		Branch:        branch,
		EncoderTrunk:  NewDense(arch.Trunk.InputSize, arch.EncoderWidth, act, rng),
		EncoderBranch: NewDense(arch.Branch.InputSize, arch.EncoderWidth, act, rng),
		Bias:          mat.NewVecDense(arch.VarDim, nil),
		biasSlot:      -1,
	}

	m.register("encoder_trunk", m.EncoderTrunk)
	m.register("encoder_branch", m.EncoderBranch)
	for i, l := range trunk.layers() {
		m.register(fmt.Sprintf("%s.%d", trunk.Name, i), l)
	}
	for i, l := range branch.layers() {
		m.register(fmt.Sprintf("%s.%d", branch.Name, i), l)
	}
	if arch.Bias {
		m.biasSlot = len(m.params)
		m.params = append(m.params, Param{Name: "bias", Rows: arch.VarDim, Cols: 1, Value: m.Bias.RawVector().Data})
	}
	return m, nil
}

func (m *DeepONet) register(name string, l *Dense) {
	l.slot = len(m.params)
	m.params = append(m.params,
		Param{Name: name + ".W", Rows: l.Out, Cols: l.In, Value: l.W.RawMatrix().Data},
		Param{Name: name + ".b", Rows: l.Out, Cols: 1, Value: l.B.RawVector().Data},
	)
}

func (m *DeepONet) Architecture() Architecture { return m.arch }
func (m *DeepONet) Params() []Param            { return m.params }

func (m *DeepONet) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p.Value)
	}
	return n
}

func (m *DeepONet) NewGradients() Gradients {
	g := make(Gradients, len(m.params))
	for i, p := range m.params {
		g[i] = make([]float64, len(p.Value))
	}
	return g
}

// Inputs maps the named training inputs to row-aligned matrices.
type Inputs map[string]*mat.Dense

// Cache holds one forward pass for Backward. Its matrices, including the
// outputs returned by Forward, come from shared pools; Release hands them
// back once neither is needed.
type Cache struct {
	arena               *arena
	encTrunk, encBranch *denseCache
	trunk, branch       *convexCache
	trunkOut, branchOut Dual
}

// Forward evaluates the model on named inputs and returns the outputs with
// their derivative with respect to the trunk input.
func (m *DeepONet) Forward(in Inputs) (Dual, *Cache, error) {
	trunkIn, ok := in[InputTrunk]
	if !ok {
		return Dual{}, nil, fmt.Errorf("%w: %s", ErrMissingInput, InputTrunk)
	}
	branchIn, ok := in[InputBranch]
	if !ok {
		return Dual{}, nil, fmt.Errorf("%w: %s", ErrMissingInput, InputBranch)
	}

	rt, ct := trunkIn.Dims()
	rb, cb := branchIn.Dims()
	if ct != m.arch.Trunk.InputSize || cb != m.arch.Branch.InputSize || rt != rb || rt == 0 {
		return Dual{}, nil, fmt.Errorf("%w: trunk %dx%d, branch %dx%d, want Nx%d and Nx%d",
			ErrDimensionMismatch, rt, ct, rb, cb, m.arch.Trunk.InputSize, m.arch.Branch.InputSize)
	}

	c := &Cache{arena: &arena{}}
	a := c.arena

	// seed d/dt: the trunk input is t itself, the branch does not depend on t
	ones := a.dense(rt, ct)
	for i := 0; i < rt; i++ {
		for j := 0; j < ct; j++ {
			ones.Set(i, j, 1)
		}
	}
	trunk := Dual{V: trunkIn, D: ones}
	branch := Dual{V: branchIn, D: a.dense(rb, cb)}

	u, ect := m.EncoderTrunk.forward(trunk, a)
	v, ecb := m.EncoderBranch.forward(branch, a)
	c.encTrunk, c.encBranch = ect, ecb

	c.trunkOut, c.trunk = m.Trunk.forward(trunk, u, v, a)
	c.branchOut, c.branch = m.Branch.forward(branch, u, v, a)

	return m.combine(c.trunkOut, c.branchOut, a), c, nil
}

// Release returns the pass's matrices to the pools. Neither c nor the
// outputs of its Forward may be used afterwards.
func (c *Cache) Release() {
	c.arena.release()
}

func (m *DeepONet) combine(t, b Dual, a *arena) Dual {
	r, _ := t.V.Dims()
	L := m.arch.Latent
	y := a.dual(r, m.arch.VarDim)
	bias := m.Bias.RawVector().Data

	for i := 0; i < r; i++ {
		tv, td := t.V.RawRowView(i), t.D.RawRowView(i)
		bv, bd := b.V.RawRowView(i), b.D.RawRowView(i)
		yv, yd := y.V.RawRowView(i), y.D.RawRowView(i)
		for k := range yv {
			s, sd := 0.0, 0.0
			for j := k * L; j < (k+1)*L; j++ {
				s += tv[j] * bv[j]
				sd += td[j]*bv[j] + tv[j]*bd[j]
			}
			yv[k] = s
			yd[k] = sd
			if m.arch.Bias {
				yv[k] += bias[k]
			}
		}
	}
	return y
}

// Backward accumulates into grads the gradient of a loss whose partials
// with respect to the outputs (g.V) and their time derivatives (g.D) are
// given.
func (m *DeepONet) Backward(c *Cache, g Dual, grads Gradients) {
	r, _ := g.V.Dims()
	L := m.arch.Latent
	a := c.arena
	gt := a.dual(r, m.arch.Trunk.OutputSize)
	gb := a.dual(r, m.arch.Branch.OutputSize)

	for i := 0; i < r; i++ {
		tv, td := c.trunkOut.V.RawRowView(i), c.trunkOut.D.RawRowView(i)
		bv, bd := c.branchOut.V.RawRowView(i), c.branchOut.D.RawRowView(i)
		gyv, gyd := g.V.RawRowView(i), g.D.RawRowView(i)
		gtv, gtd := gt.V.RawRowView(i), gt.D.RawRowView(i)
		gbv, gbd := gb.V.RawRowView(i), gb.D.RawRowView(i)
		for k := range gyv {
			for j := k * L; j < (k+1)*L; j++ {
				gtv[j] = gyv[k]*bv[j] + gyd[k]*bd[j]
				gtd[j] = gyd[k] * bv[j]
				gbv[j] = gyv[k]*tv[j] + gyd[k]*td[j]
				gbd[j] = gyd[k] * tv[j]
			}
			if m.biasSlot >= 0 {
				grads[m.biasSlot][k] += gyv[k]
			}
		}
	}

	gu, gv := m.Trunk.backward(c.trunk, gt, grads, a)
	gu2, gv2 := m.Branch.backward(c.branch, gb, grads, a)
	gu.V.Add(gu.V, gu2.V)
	gu.D.Add(gu.D, gu2.D)
	gv.V.Add(gv.V, gv2.V)
	gv.D.Add(gv.D, gv2.D)

	m.EncoderTrunk.backward(c.encTrunk, gu, grads, a)
	m.EncoderBranch.backward(c.encBranch, gv, grads, a)
}

// Eval runs inference and returns one row of outputs per input row.
func (m *DeepONet) Eval(trunk, branch *mat.Dense) (*mat.Dense, error) {
	y, _, err := m.Forward(Inputs{InputTrunk: trunk, InputBranch: branch})
	if err != nil {
		return nil, err
	}
	return y.V, nil
}

// EvalWithDerivative is Eval plus the derivative of each output with
// respect to the trunk input.
func (m *DeepONet) EvalWithDerivative(trunk, branch *mat.Dense) (y, dy *mat.Dense, err error) {
	out, _, err := m.Forward(Inputs{InputTrunk: trunk, InputBranch: branch})
	if err != nil {
		return nil, nil, err
	}
	return out.V, out.D, nil
}
