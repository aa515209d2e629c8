package viz

import (
	"math"

	"github.com/guptarohit/asciigraph"
)

// ChannelPreview charts one output channel against the reference for the
// terminal.
func ChannelPreview(approx, ref []float64, caption string) string {
	series := [][]float64{approx}
	colors := []asciigraph.AnsiColor{asciigraph.Cyan}
	if len(ref) > 0 {
		series = append(series, ref)
		colors = append(colors, asciigraph.Yellow)
		caption += " (cyan: approximated, yellow: reference)"
	}
	return asciigraph.PlotMany(series,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption(caption),
	)
}

// LossCurve charts log10 of the loss values.
func LossCurve(loss []float64, width, height int) string {
	if len(loss) == 0 {
		return ""
	}
	logs := make([]float64, 0, len(loss))
	for _, l := range loss {
		if l > 0 && !math.IsInf(l, 0) {
			logs = append(logs, math.Log10(l))
		}
	}
	if len(logs) == 0 {
		return ""
	}
	return asciigraph.Plot(logs,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(2),
		asciigraph.Caption("log10 loss"),
	)
}
