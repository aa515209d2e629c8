package viz

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	approxColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	refColor    = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
)

func xys(times []float64, m *mat.Dense, col int) plotter.XYs {
	pts := make(plotter.XYs, len(times))
	for i, t := range times {
		pts[i].X = t
		pts[i].Y = m.At(i, col)
	}
	return pts
}

// PlotChannels writes one PNG per output column of approx, named
// <prefix>_time_int_<i>.png, with the matching column of ref overlaid when
// ref is non-nil. It returns the written paths.
func PlotChannels(dir, prefix string, times []float64, approx, ref *mat.Dense, labels []string) ([]string, error) {
	r, c := approx.Dims()
	if r != len(times) {
		return nil, fmt.Errorf("viz: %d times for %d rows", len(times), r)
	}

	paths := make([]string, 0, c)
	for i := 0; i < c; i++ {
		label := fmt.Sprintf("y%d", i)
		if i < len(labels) {
			label = labels[i]
		}

		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s: %s(t)", prefix, label)
		p.X.Label.Text = "t"
		p.Y.Label.Text = label
		p.Add(plotter.NewGrid())
		p.Legend.Top = true

		line, err := plotter.NewLine(xys(times, approx, i))
		if err != nil {
			return paths, err
		}
		line.Color = approxColor
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("Approximated", line)

		if ref != nil {
			refLine, err := plotter.NewLine(xys(times, ref, i))
			if err != nil {
				return paths, err
			}
			refLine.Color = refColor
			refLine.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
			p.Add(refLine)
			p.Legend.Add("Reference", refLine)
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_time_int_%d.png", prefix, i))
		if err := p.Save(7*vg.Inch, 4*vg.Inch, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// PlotLoss writes the loss history on a log scale. Non-positive values are
// dropped.
func PlotLoss(path string, epochs []int, loss []float64) error {
	pts := make(plotter.XYs, 0, len(loss))
	for i, l := range loss {
		if l > 0 {
			pts = append(pts, plotter.XY{X: float64(epochs[i]), Y: l})
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("viz: no positive loss values to plot")
	}

	p := plot.New()
	p.Title.Text = "training loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = approxColor
	p.Add(line)

	return p.Save(7*vg.Inch, 4*vg.Inch, path)
}
