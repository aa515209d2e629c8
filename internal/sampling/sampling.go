// Package sampling builds the collocation points used to train the
// surrogate and the fixed trajectory used to inspect it.
//
// Every initial condition is paired with every sampled time: row i*Q+q of
// the training set is (Us[i], Ut[q]). The pairing is kept implicit in a
// [Set] and only materialized by [Set.BranchTrain] and [Set.TrunkTrain].
package sampling

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var ErrInvalidSampling = errors.New("sampling: invalid sampling parameters")

// Bounds delimits the time interval and the box initial conditions are
// drawn from.
type Bounds struct {
	T     [2]float64
	Lower [3]float64
	Upper [3]float64
}

func DefaultBounds() Bounds {
	return Bounds{
		T:     [2]float64{0, 1},
		Lower: [3]float64{-50, -50, -50},
		Upper: [3]float64{50, 50, 50},
	}
}

func (b Bounds) validate() error {
	if b.T[1] < b.T[0] {
		return fmt.Errorf("%w: time interval [%g, %g]", ErrInvalidSampling, b.T[0], b.T[1])
	}
	for i := range b.Lower {
		if b.Upper[i] < b.Lower[i] {
			return fmt.Errorf("%w: state bound %d is [%g, %g]", ErrInvalidSampling, i, b.Lower[i], b.Upper[i])
		}
	}
	return nil
}

type Set struct {
	Q, N      int
	Ut        []float64
	Us        [][3]float64
	TestState [3]float64
}

// Generate draws Q times and N initial conditions from rng.
func Generate(b Bounds, q, n int, testState [3]float64, rng *rand.Rand) (*Set, error) {
	if q <= 0 || n <= 0 {
		return nil, fmt.Errorf("%w: Q=%d N=%d", ErrInvalidSampling, q, n)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	s := &Set{Q: q, N: n, TestState: testState}

	s.Ut = make([]float64, q)
	for i := range s.Ut {
		s.Ut[i] = uniform(rng, b.T[0], b.T[1])
	}

	s.Us = make([][3]float64, n)
	for i := range s.Us {
		for j := 0; j < 3; j++ {
			s.Us[i][j] = uniform(rng, b.Lower[j], b.Upper[j])
		}
	}

	return s, nil
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// Len is the number of training rows, N*Q.
func (s *Set) Len() int { return s.N * s.Q }

// Row resolves training row k into its initial condition and time.
func (s *Set) Row(k int) ([3]float64, float64) {
	return s.Us[k/s.Q], s.Ut[k%s.Q]
}

func (s *Set) BranchTrain() *mat.Dense {
	m := mat.NewDense(s.Len(), 3, nil)
	for i := 0; i < s.N; i++ {
		for q := 0; q < s.Q; q++ {
			m.SetRow(i*s.Q+q, s.Us[i][:])
		}
	}
	return m
}

func (s *Set) TrunkTrain() *mat.Dense {
	m := mat.NewDense(s.Len(), 1, nil)
	for i := 0; i < s.N; i++ {
		for q := 0; q < s.Q; q++ {
			m.Set(i*s.Q+q, 0, s.Ut[q])
		}
	}
	return m
}

func (s *Set) BranchTest() *mat.Dense {
	m := mat.NewDense(s.Q, 3, nil)
	for q := 0; q < s.Q; q++ {
		m.SetRow(q, s.TestState[:])
	}
	return m
}

// TrunkTest returns the sampled times in ascending order, so the test
// trajectory has a monotonic time axis.
func (s *Set) TrunkTest() *mat.Dense {
	sorted := make([]float64, len(s.Ut))
	copy(sorted, s.Ut)
	sort.Float64s(sorted)
	return mat.NewDense(s.Q, 1, sorted)
}

func (s *Set) InitialStates() *mat.Dense {
	m := mat.NewDense(s.N, 3, nil)
	for i := range s.Us {
		m.SetRow(i, s.Us[i][:])
	}
	return m
}

// InitialTrunk is the t=0 trunk input paired with InitialStates.
func (s *Set) InitialTrunk() *mat.Dense {
	return mat.NewDense(s.N, 1, nil)
}

// Batch gathers the given training rows into branch (len×3) and trunk
// (len×1) matrices.
func (s *Set) Batch(rows []int) (branch, trunk *mat.Dense) {
	branch = mat.NewDense(len(rows), 3, nil)
	trunk = mat.NewDense(len(rows), 1, nil)
	for i, k := range rows {
		ic, t := s.Row(k)
		branch.SetRow(i, ic[:])
		trunk.Set(i, 0, t)
	}
	return branch, trunk
}
