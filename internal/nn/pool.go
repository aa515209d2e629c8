package nn

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// densePool recycles matrices of one shape.
type densePool struct {
	pool sync.Pool
	r, c int
}

func newDensePool(r, c int) *densePool {
	return &densePool{
		r: r,
		c: c,
		pool: sync.Pool{
			New: func() interface{} {
				return mat.NewDense(r, c, nil)
			},
		},
	}
}

func (p *densePool) Get() *mat.Dense {
	return p.pool.Get().(*mat.Dense)
}

func (p *densePool) Put(m *mat.Dense) {
	if r, c := m.Dims(); r == p.r && c == p.c {
		m.Zero()
		p.pool.Put(m)
	}
}

// pools is keyed by [rows, cols].
var pools sync.Map

func poolFor(r, c int) *densePool {
	key := [2]int{r, c}
	if p, ok := pools.Load(key); ok {
		return p.(*densePool)
	}
	p, _ := pools.LoadOrStore(key, newDensePool(r, c))
	return p.(*densePool)
}

// arena hands out zeroed matrices for one forward/backward pass and returns
// them to the shared pools on release. An arena is not safe for concurrent
// use; each pass owns its own.
type arena struct {
	held []*mat.Dense
}

func (a *arena) dense(r, c int) *mat.Dense {
	m := poolFor(r, c).Get()
	a.held = append(a.held, m)
	return m
}

func (a *arena) dual(r, c int) Dual {
	return Dual{V: a.dense(r, c), D: a.dense(r, c)}
}

func (a *arena) release() {
	for _, m := range a.held {
		r, c := m.Dims()
		poolFor(r, c).Put(m)
	}
	a.held = a.held[:0]
}
