// Package metrics scores a predicted trajectory against a reference one.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/dynamo"
)

// Metric accumulates one score over a trajectory, point by point.
type Metric interface {
	Name() string
	Observe(pred, ref dynamo.State, t float64)
	Value() float64
	Reset()
}

// RMSE is the root mean squared error of one channel.
type RMSE struct {
	name    string
	channel int
	sum     float64
	samples int
}

func NewRMSE(channel int, label string) *RMSE {
	return &RMSE{name: "rmse_" + label, channel: channel}
}

func (m *RMSE) Name() string { return m.name }

func (m *RMSE) Observe(pred, ref dynamo.State, t float64) {
	d := pred[m.channel] - ref[m.channel]
	m.sum += d * d
	m.samples++
}

func (m *RMSE) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sum / float64(m.samples))
}

func (m *RMSE) Reset() {
	m.sum = 0
	m.samples = 0
}

// RelativeL2 is ||pred - ref|| / ||ref|| over one channel.
type RelativeL2 struct {
	name    string
	channel int
	errSq   float64
	refSq   float64
}

func NewRelativeL2(channel int, label string) *RelativeL2 {
	return &RelativeL2{name: "rel_l2_" + label, channel: channel}
}

func (m *RelativeL2) Name() string { return m.name }

func (m *RelativeL2) Observe(pred, ref dynamo.State, t float64) {
	d := pred[m.channel] - ref[m.channel]
	m.errSq += d * d
	m.refSq += ref[m.channel] * ref[m.channel]
}

func (m *RelativeL2) Value() float64 {
	if m.refSq == 0 {
		return math.Sqrt(m.errSq)
	}
	return math.Sqrt(m.errSq / m.refSq)
}

func (m *RelativeL2) Reset() {
	m.errSq = 0
	m.refSq = 0
}

// MaxError is the largest absolute error over all channels.
type MaxError struct {
	max float64
}

func NewMaxError() *MaxError { return &MaxError{} }

func (m *MaxError) Name() string { return "max_abs_error" }

func (m *MaxError) Observe(pred, ref dynamo.State, t float64) {
	for i := range pred {
		m.max = math.Max(m.max, math.Abs(pred[i]-ref[i]))
	}
}

func (m *MaxError) Value() float64 { return m.max }
func (m *MaxError) Reset()         { m.max = 0 }

// Standard returns RMSE and relative L2 for every labelled channel, the
// worst pointwise error and a boundedness check on the prediction.
func Standard(labels []string, bound float64) []Metric {
	var ms []Metric
	for i, l := range labels {
		ms = append(ms, NewRMSE(i, l), NewRelativeL2(i, l))
	}
	return append(ms, NewMaxError(), NewStability(bound))
}

// Evaluate feeds the rows of pred and ref through every metric and returns
// the scores by name.
func Evaluate(ms []Metric, times []float64, pred, ref *mat.Dense) map[string]float64 {
	for _, m := range ms {
		m.Reset()
	}
	r, _ := pred.Dims()
	for i := 0; i < r; i++ {
		p := dynamo.State(pred.RawRowView(i))
		x := dynamo.State(ref.RawRowView(i))
		for _, m := range ms {
			m.Observe(p, x, times[i])
		}
	}

	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
