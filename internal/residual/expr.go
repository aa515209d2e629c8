package residual

import (
	"fmt"
	"strconv"
)

// Env holds, for one collocation point, the model outputs, their
// derivatives with respect to the input variable, and the inputs.
type Env struct {
	Values []float64
	Derivs []float64
	Inputs []float64
}

// Partials receives ∂e/∂Values[k] and ∂e/∂Derivs[k].
type Partials struct {
	Values []float64
	Derivs []float64
}

// Expr is a node of the closed residual grammar.
type Expr interface {
	Eval(env *Env) float64
	// accum adds seed * ∂e/∂leaf into p for every output leaf below e.
	accum(env *Env, seed float64, p *Partials)
	String() string
}

type Num float64

func (n Num) Eval(*Env) float64              { return float64(n) }
func (n Num) accum(*Env, float64, *Partials) {}
func (n Num) String() string                 { return strconv.FormatFloat(float64(n), 'g', -1, 64) }

// Const is a named constant resolved at build time.
type Const struct {
	Name  string
	Value float64
}

func (c Const) Eval(*Env) float64              { return c.Value }
func (c Const) accum(*Env, float64, *Partials) {}
func (c Const) String() string                 { return c.Name }

// Var is a model output.
type Var struct {
	Name  string
	Index int
}

func (v Var) Eval(env *Env) float64 { return env.Values[v.Index] }
func (v Var) accum(_ *Env, seed float64, p *Partials) {
	p.Values[v.Index] += seed
}
func (v Var) String() string { return v.Name }

// Input is an independent variable such as t.
type Input struct {
	Name  string
	Index int
}

func (i Input) Eval(env *Env) float64          { return env.Inputs[i.Index] }
func (i Input) accum(*Env, float64, *Partials) {}
func (i Input) String() string                 { return i.Name }

// Deriv is D(var, input), the derivative of an output with respect to the
// input the operator is bound to.
type Deriv struct {
	Of  Var
	Wrt Input
}

func (d Deriv) Eval(env *Env) float64 { return env.Derivs[d.Of.Index] }
func (d Deriv) accum(_ *Env, seed float64, p *Partials) {
	p.Derivs[d.Of.Index] += seed
}
func (d Deriv) String() string { return fmt.Sprintf("D(%s, %s)", d.Of.Name, d.Wrt.Name) }

type Neg struct{ X Expr }

func (n Neg) Eval(env *Env) float64 { return -n.X.Eval(env) }
func (n Neg) accum(env *Env, seed float64, p *Partials) {
	n.X.accum(env, -seed, p)
}
func (n Neg) String() string { return "-" + n.X.String() }

type Binary struct {
	Op   byte
	L, R Expr
}

func (b Binary) Eval(env *Env) float64 {
	l, r := b.L.Eval(env), b.R.Eval(env)
	switch b.Op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		return l / r
	}
	panic("residual: unknown operator " + string(b.Op))
}

func (b Binary) accum(env *Env, seed float64, p *Partials) {
	switch b.Op {
	case '+':
		b.L.accum(env, seed, p)
		b.R.accum(env, seed, p)
	case '-':
		b.L.accum(env, seed, p)
		b.R.accum(env, -seed, p)
	case '*':
		b.L.accum(env, seed*b.R.Eval(env), p)
		b.R.accum(env, seed*b.L.Eval(env), p)
	case '/':
		r := b.R.Eval(env)
		b.L.accum(env, seed/r, p)
		b.R.accum(env, -seed*b.L.Eval(env)/(r*r), p)
	}
}

func (b Binary) String() string {
	return "(" + b.L.String() + " " + string(b.Op) + " " + b.R.String() + ")"
}
