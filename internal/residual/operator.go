// Package residual builds physics residuals from equation strings and
// evaluates them, with their partial derivatives, on batches of model
// outputs.
//
// An expression such as
//
//	D(x, t) - sigma*(y - x)
//
// is parsed into a closed AST over the declared outputs (x, y, z), inputs
// (t) and named constants. D(var, t) reads the derivative the network
// computed alongside its output, so no symbolic differentiation of the
// network is needed.
package residual

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrSyntax        = errors.New("residual: syntax error")
	ErrUnknownSymbol = errors.New("residual: unknown symbol")
	ErrInvalidSpec   = errors.New("residual: invalid residual definition")
)

type Spec struct {
	Expressions []string
	Inputs      []string
	Outputs     []string
	Constants   map[string]float64
	// InputsKey names the model input the derivatives are taken against.
	InputsKey string
}

type Operator struct {
	exprs     []Expr
	inputs    []string
	outputs   []string
	constants map[string]float64
	inputsKey string
}

func New(spec Spec) (*Operator, error) {
	if len(spec.Expressions) == 0 {
		return nil, fmt.Errorf("%w: no expressions", ErrInvalidSpec)
	}
	if len(spec.Inputs) != 1 {
		return nil, fmt.Errorf("%w: exactly one input variable is supported, got %v", ErrInvalidSpec, spec.Inputs)
	}
	if len(spec.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no output variables", ErrInvalidSpec)
	}
	if spec.InputsKey == "" {
		return nil, fmt.Errorf("%w: inputs key is empty", ErrInvalidSpec)
	}

	constants := make(map[string]float64, len(spec.Constants))
	for k, v := range spec.Constants {
		constants[k] = v
	}

	op := &Operator{
		inputs:    append([]string(nil), spec.Inputs...),
		outputs:   append([]string(nil), spec.Outputs...),
		constants: constants,
		inputsKey: spec.InputsKey,
	}
	for _, src := range spec.Expressions {
		e, err := Parse(src, op.outputs, op.inputs, constants)
		if err != nil {
			return nil, err
		}
		op.exprs = append(op.exprs, e)
	}
	return op, nil
}

func (o *Operator) InputsKey() string             { return o.inputsKey }
func (o *Operator) Outputs() []string             { return o.outputs }
func (o *Operator) Constants() map[string]float64 { return o.constants }
func (o *Operator) Len() int                      { return len(o.exprs) }

func (o *Operator) check(t, y, dy *mat.Dense) (int, error) {
	r, c := y.Dims()
	rd, cd := dy.Dims()
	rt, _ := t.Dims()
	if c != len(o.outputs) || cd != c || rd != r || rt != r {
		return 0, fmt.Errorf("%w: outputs %dx%d, derivatives %dx%d, inputs %d rows for %d outputs",
			ErrInvalidSpec, r, c, rd, cd, rt, len(o.outputs))
	}
	return r, nil
}

// Residuals evaluates every expression on every row. Column k of the result
// holds expression k.
func (o *Operator) Residuals(t, y, dy *mat.Dense) (*mat.Dense, error) {
	r, err := o.check(t, y, dy)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(r, len(o.exprs), nil)
	env := &Env{}
	for i := 0; i < r; i++ {
		env.Values = y.RawRowView(i)
		env.Derivs = dy.RawRowView(i)
		env.Inputs = t.RawRowView(i)
		row := out.RawRowView(i)
		for k, e := range o.exprs {
			row[k] = e.Eval(env)
		}
	}
	return out, nil
}

// Backward maps the gradient of a loss with respect to the residuals onto
// the model outputs and their derivatives.
func (o *Operator) Backward(t, y, dy, gr *mat.Dense) (gy, gdy *mat.Dense, err error) {
	r, err := o.check(t, y, dy)
	if err != nil {
		return nil, nil, err
	}
	if rg, cg := gr.Dims(); rg != r || cg != len(o.exprs) {
		return nil, nil, fmt.Errorf("%w: residual gradient %dx%d, want %dx%d", ErrInvalidSpec, rg, cg, r, len(o.exprs))
	}

	gy = mat.NewDense(r, len(o.outputs), nil)
	gdy = mat.NewDense(r, len(o.outputs), nil)
	env := &Env{}
	for i := 0; i < r; i++ {
		env.Values = y.RawRowView(i)
		env.Derivs = dy.RawRowView(i)
		env.Inputs = t.RawRowView(i)
		p := &Partials{Values: gy.RawRowView(i), Derivs: gdy.RawRowView(i)}
		grow := gr.RawRowView(i)
		for k, e := range o.exprs {
			if grow[k] != 0 {
				e.accum(env, grow[k], p)
			}
		}
	}
	return gy, gdy, nil
}
