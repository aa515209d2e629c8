package nn

// Param is a view onto one trainable tensor. Value aliases the model's
// storage, so optimizers update the model in place.
type Param struct {
	Name       string
	Rows, Cols int
	Value      []float64
}

// Gradients holds one slice per Param, in Params() order.
type Gradients [][]float64

func (g Gradients) Zero() {
	for _, s := range g {
		for i := range s {
			s[i] = 0
		}
	}
}

func (g Gradients) Add(other Gradients) {
	for k, s := range g {
		o := other[k]
		for i := range s {
			s[i] += o[i]
		}
	}
}

func (g Gradients) Scale(f float64) {
	for _, s := range g {
		for i := range s {
			s[i] *= f
		}
	}
}
