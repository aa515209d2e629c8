package residual

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// symbols resolves identifiers while parsing.
type symbols struct {
	outputs   map[string]int
	inputs    map[string]int
	constants map[string]float64
}

type parser struct {
	s    scanner.Scanner
	tok  rune
	syms *symbols
	err  error
	src  string
}

// Parse turns an expression such as "D(x, t) - sigma*(y - x)" into an AST.
// Identifiers must name an output, an input or a constant; the only
// function is D(output, input).
func Parse(src string, outputs, inputs []string, constants map[string]float64) (Expr, error) {
	syms := &symbols{
		outputs:   indexOf(outputs),
		inputs:    indexOf(inputs),
		constants: constants,
	}
	return parse(src, syms)
}

func indexOf(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

func parse(src string, syms *symbols) (Expr, error) {
	p := &parser{syms: syms, src: src}
	p.s.Init(strings.NewReader(src))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats
	p.s.Error = func(_ *scanner.Scanner, msg string) {
		p.fail("%s", msg)
	}
	p.next()

	e := p.expr()
	if p.err == nil && p.tok != scanner.EOF {
		p.fail("unexpected %q", p.s.TokenText())
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

func (p *parser) next() { p.tok = p.s.Scan() }

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s at %s in %q", ErrSyntax, fmt.Sprintf(format, args...), p.s.Position, p.src)
	}
}

func (p *parser) expect(r rune) {
	if p.tok != r {
		p.fail("expected %s, found %q", scanner.TokenString(r), p.s.TokenText())
		return
	}
	p.next()
}

// expr := term { ('+' | '-') term }
func (p *parser) expr() Expr {
	e := p.term()
	for p.err == nil && (p.tok == '+' || p.tok == '-') {
		op := byte(p.tok)
		p.next()
		e = Binary{Op: op, L: e, R: p.term()}
	}
	return e
}

// term := unary { ('*' | '/') unary }
func (p *parser) term() Expr {
	e := p.unary()
	for p.err == nil && (p.tok == '*' || p.tok == '/') {
		op := byte(p.tok)
		p.next()
		e = Binary{Op: op, L: e, R: p.unary()}
	}
	return e
}

// unary := '-' unary | '+' unary | primary
func (p *parser) unary() Expr {
	switch p.tok {
	case '-':
		p.next()
		return Neg{X: p.unary()}
	case '+':
		p.next()
		return p.unary()
	}
	return p.primary()
}

func (p *parser) primary() Expr {
	if p.err != nil {
		return Num(0)
	}
	switch p.tok {
	case scanner.Int, scanner.Float:
		v, err := strconv.ParseFloat(p.s.TokenText(), 64)
		if err != nil {
			p.fail("bad number %q", p.s.TokenText())
		}
		p.next()
		return Num(v)
	case '(':
		p.next()
		e := p.expr()
		p.expect(')')
		return e
	case scanner.Ident:
		name := p.s.TokenText()
		p.next()
		if p.tok == '(' {
			return p.call(name)
		}
		return p.ident(name)
	case scanner.EOF:
		p.fail("unexpected end of expression")
	default:
		p.fail("unexpected %q", p.s.TokenText())
	}
	return Num(0)
}

func (p *parser) ident(name string) Expr {
	if i, ok := p.syms.outputs[name]; ok {
		return Var{Name: name, Index: i}
	}
	if i, ok := p.syms.inputs[name]; ok {
		return Input{Name: name, Index: i}
	}
	if v, ok := p.syms.constants[name]; ok {
		return Const{Name: name, Value: v}
	}
	if p.err == nil {
		p.err = fmt.Errorf("%w: %q in %q", ErrUnknownSymbol, name, p.src)
	}
	return Num(0)
}

// call := 'D' '(' output ',' input ')'
func (p *parser) call(name string) Expr {
	if name != "D" {
		if p.err == nil {
			p.err = fmt.Errorf("%w: function %q in %q", ErrUnknownSymbol, name, p.src)
		}
		return Num(0)
	}
	p.expect('(')
	of := p.s.TokenText()
	p.expect(scanner.Ident)
	p.expect(',')
	wrt := p.s.TokenText()
	p.expect(scanner.Ident)
	p.expect(')')
	if p.err != nil {
		return Num(0)
	}

	oi, ok := p.syms.outputs[of]
	if !ok {
		p.err = fmt.Errorf("%w: D() of non-output %q in %q", ErrUnknownSymbol, of, p.src)
		return Num(0)
	}
	ii, ok := p.syms.inputs[wrt]
	if !ok {
		p.err = fmt.Errorf("%w: D() with respect to non-input %q in %q", ErrUnknownSymbol, wrt, p.src)
		return Num(0)
	}
	return Deriv{Of: Var{Name: of, Index: oi}, Wrt: Input{Name: wrt, Index: ii}}
}
