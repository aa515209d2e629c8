package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dual is a batch of values and their derivatives with respect to the
// trunk input, row-aligned.
type Dual struct {
	V, D *mat.Dense
}

// Dense is a fully-connected layer y = act(W x + b) with W stored Out×In.
type Dense struct {
	In, Out int
	W       *mat.Dense
	B       *mat.VecDense
	Act     Activation

	// index of W in the owning model's parameter list; b follows it
	slot int
}

// NewDense initialises W with Glorot-uniform draws from rng and b with zeros.
func NewDense(in, out int, act Activation, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	w := make([]float64, out*in)
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
	return &Dense{
		In:  in,
		Out: out,
		W:   mat.NewDense(out, in, w),
		B:   mat.NewVecDense(out, nil),
		Act: act,
	}
}

type denseCache struct {
	in         Dual
	zd, d1, d2 *mat.Dense
}

func (l *Dense) forward(x Dual, a *arena) (Dual, *denseCache) {
	r, _ := x.V.Dims()
	h := a.dense(r, l.Out)
	h.Mul(x.V, l.W.T())
	zd := a.dense(r, l.Out)
	zd.Mul(x.D, l.W.T())

	c := &denseCache{
		in: x,
		zd: zd,
		d1: a.dense(r, l.Out),
		d2: a.dense(r, l.Out),
	}
	hd := a.dense(r, l.Out)
	b := l.B.RawVector().Data

	for i := 0; i < r; i++ {
		hr := h.RawRowView(i)
		zdr := zd.RawRowView(i)
		hdr := hd.RawRowView(i)
		d1r := c.d1.RawRowView(i)
		d2r := c.d2.RawRowView(i)
		for j := range hr {
			f, f1, f2 := l.Act.Eval(hr[j] + b[j])
			hr[j] = f
			hdr[j] = f1 * zdr[j]
			d1r[j] = f1
			d2r[j] = f2
		}
	}

	return Dual{V: h, D: hd}, c
}

// backward accumulates dL/dW and dL/db into grads and returns dL/dx for
// both the value and tangent streams.
func (l *Dense) backward(c *denseCache, g Dual, grads Gradients, a *arena) Dual {
	r, _ := g.V.Dims()
	gz := a.dense(r, l.Out)
	gzd := a.dense(r, l.Out)
	gb := grads[l.slot+1]

	for i := 0; i < r; i++ {
		gv := g.V.RawRowView(i)
		gd := g.D.RawRowView(i)
		zd := c.zd.RawRowView(i)
		d1 := c.d1.RawRowView(i)
		d2 := c.d2.RawRowView(i)
		gzr := gz.RawRowView(i)
		gzdr := gzd.RawRowView(i)
		for j := range gzr {
			// h' = act'(z) z', so z feeds the tangent through act''
			gzr[j] = gv[j]*d1[j] + gd[j]*d2[j]*zd[j]
			gzdr[j] = gd[j] * d1[j]
			gb[j] += gzr[j]
		}
	}

	gw := mat.NewDense(l.Out, l.In, grads[l.slot])
	tmp := a.dense(l.Out, l.In)
	tmp.Mul(gz.T(), c.in.V)
	gw.Add(gw, tmp)
	tmp.Mul(gzd.T(), c.in.D)
	gw.Add(gw, tmp)

	gx := a.dual(r, l.In)
	gx.V.Mul(gz, l.W)
	gx.D.Mul(gzd, l.W)
	return gx
}
