package residual

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/dynamo"
	"github.com/san-kum/lorenzonet/internal/physics"
)

func lorenzSpec() Spec {
	l := physics.NewLorenz()
	return Spec{
		Expressions: l.Residuals(),
		Inputs:      []string{"t"},
		Outputs:     l.Variables(),
		Constants:   l.GetParams(),
		InputsKey:   "input_trunk",
	}
}

var _ = Describe("Parse", func() {
	outputs := []string{"x", "y", "z"}
	inputs := []string{"t"}
	constants := map[string]float64{"sigma": 10, "rho": 28}

	eval := func(src string, env *Env) float64 {
		e, err := Parse(src, outputs, inputs, constants)
		Expect(err).NotTo(HaveOccurred())
		return e.Eval(env)
	}

	It("respects precedence and unary minus", func() {
		env := &Env{Values: []float64{2, 3, 4}, Derivs: []float64{0, 0, 0}, Inputs: []float64{0.5}}
		Expect(eval("x + y*z", env)).To(Equal(14.0))
		Expect(eval("(x + y)*z", env)).To(Equal(20.0))
		Expect(eval("-x*y - -z", env)).To(Equal(-2.0))
		Expect(eval("8/4/2", env)).To(Equal(1.0))
		Expect(eval("t*sigma + 2.5e-1", env)).To(Equal(5.25))
	})

	It("reads derivatives from the environment", func() {
		env := &Env{Values: []float64{1, 1, 1}, Derivs: []float64{7, 8, 9}, Inputs: []float64{0}}
		Expect(eval("D(y, t)", env)).To(Equal(8.0))
		Expect(eval("D(z, t) - rho", env)).To(Equal(-19.0))
	})

	DescribeTable("rejects invalid expressions",
		func(src string, want error) {
			_, err := Parse(src, outputs, inputs, constants)
			Expect(err).To(MatchError(want))
		},
		Entry("unknown constant", "D(x, t) - bheta*z", ErrUnknownSymbol),
		Entry("unknown function", "sin(x)", ErrUnknownSymbol),
		Entry("derivative of an input", "D(t, t)", ErrUnknownSymbol),
		Entry("derivative wrt an output", "D(x, y)", ErrUnknownSymbol),
		Entry("dangling operator", "x - * y", ErrSyntax),
		Entry("unbalanced parenthesis", "(x + y", ErrSyntax),
		Entry("trailing tokens", "x y", ErrSyntax),
		Entry("empty", "", ErrSyntax),
	)

	It("prints a parenthesised form", func() {
		e, err := Parse("D(x, t) - sigma*(y - x)", outputs, inputs, constants)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.String()).To(Equal("(D(x, t) - (sigma * (y - x)))"))
	})
})

var _ = Describe("Operator", func() {
	var op *Operator

	BeforeEach(func() {
		var err error
		op, err = New(lorenzSpec())
		Expect(err).NotTo(HaveOccurred())
	})

	It("binds to the trunk input", func() {
		Expect(op.InputsKey()).To(Equal("input_trunk"))
		Expect(op.Len()).To(Equal(3))
		Expect(op.Constants()).To(HaveKeyWithValue("rho", 28.0))
	})

	It("vanishes on exact Lorenz derivatives", func() {
		l := physics.NewLorenz()
		rng := rand.New(rand.NewSource(7))
		rows := 16
		t := mat.NewDense(rows, 1, nil)
		y := mat.NewDense(rows, 3, nil)
		dy := mat.NewDense(rows, 3, nil)
		for i := 0; i < rows; i++ {
			s := dynamo.State{100*rng.Float64() - 50, 100*rng.Float64() - 50, 100*rng.Float64() - 50}
			y.SetRow(i, s)
			dy.SetRow(i, l.Derive(s, 0))
			t.Set(i, 0, rng.Float64())
		}

		r, err := op.Residuals(t, y, dy)
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < rows; i++ {
			for k := 0; k < 3; k++ {
				Expect(r.At(i, k)).To(BeNumerically("~", 0, 1e-9))
			}
		}
	})

	It("returns the analytic partials", func() {
		t := mat.NewDense(1, 1, []float64{0.3})
		y := mat.NewDense(1, 3, []float64{2, 3, 5})
		dy := mat.NewDense(1, 3, []float64{1, 1, 1})

		// one residual at a time
		for k := 0; k < 3; k++ {
			gr := mat.NewDense(1, 3, nil)
			gr.Set(0, k, 1)
			gy, gdy, err := op.Backward(t, y, dy, gr)
			Expect(err).NotTo(HaveOccurred())

			want := [][]float64{
				{10, -10, 0},        // D(x) - sigma*(y - x)
				{-(28 - 5), 1, 2},   // D(y) - x*(rho - z) + y
				{-3, -2, 8.0 / 3.0}, // D(z) - x*y + beta*z
			}[k]
			for j := 0; j < 3; j++ {
				Expect(gy.At(0, j)).To(BeNumerically("~", want[j], 1e-12))
				if j == k {
					Expect(gdy.At(0, j)).To(Equal(1.0))
				} else {
					Expect(gdy.At(0, j)).To(BeZero())
				}
			}
		}
	})

	It("rejects mismatched shapes", func() {
		t := mat.NewDense(2, 1, nil)
		y := mat.NewDense(2, 2, nil)
		dy := mat.NewDense(2, 2, nil)
		_, err := op.Residuals(t, y, dy)
		Expect(err).To(MatchError(ErrInvalidSpec))
	})

	It("refuses an empty or multi-input spec", func() {
		spec := lorenzSpec()
		spec.Inputs = []string{"t", "s"}
		_, err := New(spec)
		Expect(err).To(MatchError(ErrInvalidSpec))

		spec = lorenzSpec()
		spec.Expressions = nil
		_, err = New(spec)
		Expect(err).To(MatchError(ErrInvalidSpec))
	})
})
