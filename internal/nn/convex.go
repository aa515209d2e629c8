package nn

import (
	"fmt"
	"math/rand"
)

// NetConfig describes one fully-connected sub-network.
type NetConfig struct {
	Name       string `yaml:"name"`
	Units      []int  `yaml:"layers_units"`
	Activation string `yaml:"activation"`
	InputSize  int    `yaml:"input_size"`
	OutputSize int    `yaml:"output_size"`
}

func (c NetConfig) validate() error {
	if c.InputSize <= 0 || c.OutputSize <= 0 {
		return fmt.Errorf("%w: %s has input %d, output %d", ErrInvalidArchitecture, c.Name, c.InputSize, c.OutputSize)
	}
	if len(c.Units) == 0 {
		return fmt.Errorf("%w: %s has no hidden layers", ErrInvalidArchitecture, c.Name)
	}
	for i, u := range c.Units {
		if u <= 0 {
			return fmt.Errorf("%w: %s layer %d has %d units", ErrInvalidArchitecture, c.Name, i, u)
		}
	}
	_, err := ActivationByName(c.Activation)
	return err
}

// ConvexNet is a dense network whose hidden states after the first layer
// are convex mixtures of two encodings U and V:
//
//	H1      = act(W1 x + b1)
//	Z_k     = act(W_k H_k + b_k)
//	H_{k+1} = (1 - Z_k) * U + Z_k * V
//	out     = W_o H_L + b_o
type ConvexNet struct {
	Name   string
	Input  *Dense
	Gates  []*Dense
	Output *Dense
}

func NewConvexNet(cfg NetConfig, rng *rand.Rand) (*ConvexNet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	act, _ := ActivationByName(cfg.Activation)

	n := &ConvexNet{Name: cfg.Name}
	n.Input = NewDense(cfg.InputSize, cfg.Units[0], act, rng)
	for k := 1; k < len(cfg.Units); k++ {
		n.Gates = append(n.Gates, NewDense(cfg.Units[k-1], cfg.Units[k], act, rng))
	}
	n.Output = NewDense(cfg.Units[len(cfg.Units)-1], cfg.OutputSize, identityAct{}, rng)
	return n, nil
}

func (n *ConvexNet) layers() []*Dense {
	out := []*Dense{n.Input}
	out = append(out, n.Gates...)
	return append(out, n.Output)
}

type mixCache struct {
	u, v, z Dual
}

type convexCache struct {
	input  *denseCache
	gates  []*denseCache
	mixes  []mixCache
	output *denseCache
	encW   int
}

func (n *ConvexNet) forward(x, u, v Dual, a *arena) (Dual, *convexCache) {
	_, encW := u.V.Dims()
	c := &convexCache{encW: encW}

	h, ic := n.Input.forward(x, a)
	c.input = ic
	for _, gate := range n.Gates {
		z, gc := gate.forward(h, a)
		c.gates = append(c.gates, gc)
		c.mixes = append(c.mixes, mixCache{u: u, v: v, z: z})
		h = mix(u, v, z, a)
	}

	out, oc := n.Output.forward(h, a)
	c.output = oc
	return out, c
}

// backward returns the gradients flowing into the shared encodings U and V.
func (n *ConvexNet) backward(c *convexCache, g Dual, grads Gradients, a *arena) (gu, gv Dual) {
	r, _ := g.V.Dims()
	gu = a.dual(r, c.encW)
	gv = a.dual(r, c.encW)

	gh := n.Output.backward(c.output, g, grads, a)
	for k := len(n.Gates) - 1; k >= 0; k-- {
		gz := mixBackward(c.mixes[k], gh, gu, gv, a)
		gh = n.Gates[k].backward(c.gates[k], gz, grads, a)
	}
	n.Input.backward(c.input, gh, grads, a)
	return gu, gv
}

func mix(u, v, z Dual, a *arena) Dual {
	r, w := z.V.Dims()
	h := a.dual(r, w)
	for i := 0; i < r; i++ {
		ur, udr := u.V.RawRowView(i), u.D.RawRowView(i)
		vr, vdr := v.V.RawRowView(i), v.D.RawRowView(i)
		zr, zdr := z.V.RawRowView(i), z.D.RawRowView(i)
		hr, hdr := h.V.RawRowView(i), h.D.RawRowView(i)
		for j := range hr {
			diff := vr[j] - ur[j]
			hr[j] = ur[j] + zr[j]*diff
			hdr[j] = udr[j] + zdr[j]*diff + zr[j]*(vdr[j]-udr[j])
		}
	}
	return h
}

// mixBackward adds the U and V contributions into gu and gv and returns the
// gradient with respect to the gate output Z.
func mixBackward(c mixCache, gh, gu, gv Dual, a *arena) Dual {
	r, w := gh.V.Dims()
	gz := a.dual(r, w)
	for i := 0; i < r; i++ {
		ur, udr := c.u.V.RawRowView(i), c.u.D.RawRowView(i)
		vr, vdr := c.v.V.RawRowView(i), c.v.D.RawRowView(i)
		zr, zdr := c.z.V.RawRowView(i), c.z.D.RawRowView(i)
		ghr, ghdr := gh.V.RawRowView(i), gh.D.RawRowView(i)
		gzr, gzdr := gz.V.RawRowView(i), gz.D.RawRowView(i)
		gur, gudr := gu.V.RawRowView(i), gu.D.RawRowView(i)
		gvr, gvdr := gv.V.RawRowView(i), gv.D.RawRowView(i)
		for j := range ghr {
			diff := vr[j] - ur[j]
			diffd := vdr[j] - udr[j]
			gzr[j] = ghr[j]*diff + ghdr[j]*diffd
			gzdr[j] = ghdr[j] * diff
			gur[j] += ghr[j]*(1-zr[j]) - ghdr[j]*zdr[j]
			gudr[j] += ghdr[j] * (1 - zr[j])
			gvr[j] += ghr[j]*zr[j] + ghdr[j]*zdr[j]
			gvdr[j] += ghdr[j] * zr[j]
		}
	}
	return gz
}
