package train

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/residual"
)

// Terms are the components of the opirmse loss.
type Terms struct {
	Residual       float64
	Initial        float64
	Regularization float64
}

func (t Terms) Total() float64 {
	return t.Residual + t.Initial + t.Regularization
}

func (t *Terms) add(o Terms) {
	t.Residual += o.Residual
	t.Initial += o.Initial
	t.Regularization += o.Regularization
}

func (t Terms) finite() bool {
	v := t.Total()
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// residualLoss evaluates the weighted residual term on a slice of a batch.
// Sums are divided by norm, the size of the whole batch, so chunk results
// add up to batch means. When grads is non-nil the gradient of the term is
// accumulated into it.
func residualLoss(m *nn.DeepONet, op *residual.Operator, cfg Config, branch, trunk *mat.Dense, norm float64, grads nn.Gradients) (Terms, error) {
	var terms Terms

	out, cache, err := m.Forward(nn.Inputs{nn.InputTrunk: trunk, nn.InputBranch: branch})
	if err != nil {
		return terms, err
	}
	defer cache.Release()

	res, err := op.Residuals(trunk, out.V, out.D)
	if err != nil {
		return terms, err
	}

	r, c := res.Dims()
	var gr *mat.Dense
	if grads != nil {
		gr = mat.NewDense(r, c, nil)
	}
	for i := 0; i < r; i++ {
		row := res.RawRowView(i)
		for k, v := range row {
			w := cfg.WeightsResidual[k]
			terms.Residual += w * v * v / norm
			if gr != nil {
				gr.Set(i, k, 2*w*v/norm)
			}
		}
	}
	if grads != nil {
		gy, gdy, err := op.Backward(trunk, out.V, out.D, gr)
		if err != nil {
			return terms, err
		}
		m.Backward(cache, nn.Dual{V: gy, D: gdy}, grads)
	}
	return terms, nil
}

// initialLoss evaluates the weighted initial-condition term on a slice of
// the initial states: the model at t = 0 must reproduce each state. zeros
// is the matching all-zero trunk input and norm the total number of states.
func initialLoss(m *nn.DeepONet, cfg Config, states, zeros *mat.Dense, norm float64, grads nn.Gradients) (Terms, error) {
	var terms Terms

	out, cache, err := m.Forward(nn.Inputs{nn.InputTrunk: zeros, nn.InputBranch: states})
	if err != nil {
		return terms, err
	}
	defer cache.Release()

	r, vars := out.V.Dims()
	var gy *mat.Dense
	if grads != nil {
		gy = mat.NewDense(r, vars, nil)
	}
	for i := 0; i < r; i++ {
		y := out.V.RawRowView(i)
		s := states.RawRowView(i)
		for k := range y {
			w := cfg.Weights[k]
			e := y[k] - s[k]
			terms.Initial += w * e * e / norm
			if gy != nil {
				gy.Set(i, k, 2*w*e/norm)
			}
		}
	}
	if grads != nil {
		m.Backward(cache, nn.Dual{V: gy, D: mat.NewDense(r, vars, nil)}, grads)
	}
	return terms, nil
}

// penalty returns l1*sum|w| + l2*sum w^2 over params and, when grads is
// non-nil, adds its gradient.
func penalty(params []nn.Param, l1, l2 float64, grads nn.Gradients) float64 {
	if l1 == 0 && l2 == 0 {
		return 0
	}
	var sum float64
	for k, p := range params {
		for i, w := range p.Value {
			sum += l1*math.Abs(w) + l2*w*w
			if grads != nil {
				grads[k][i] += l1*sign(w) + 2*l2*w
			}
		}
	}
	return sum
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
