// Package export writes evaluation results in formats meant for other
// tools.
package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/san-kum/lorenzonet/internal/analysis"
)

// Series is one trajectory drawn into a phase plot.
type Series struct {
	Label  string
	Color  string
	Dashed bool
	*analysis.Portrait
}

// PhaseSVG draws every series as a polyline on a shared scale, with a
// legend in the top-left corner. Series with fewer than two points are
// skipped.
func PhaseSVG(series []Series, width, height int, xLabel, yLabel string) string {
	var drawn []Series
	var portraits []*analysis.Portrait
	for _, s := range series {
		if s.Portrait != nil && len(s.Points) >= 2 {
			drawn = append(drawn, s)
			portraits = append(portraits, s.Portrait)
		}
	}
	if len(drawn) == 0 {
		return ""
	}

	minX, maxX, minY, maxY := analysis.Bounds(portraits...)
	rangeX := maxX - minX
	rangeY := maxY - minY

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))

	for _, s := range drawn {
		dash := ""
		if s.Dashed {
			dash = ` stroke-dasharray="6 4"`
		}
		sb.WriteString(fmt.Sprintf(`<path fill="none" stroke="%s" stroke-width="1.5"%s d="M`, s.Color, dash))
		for i, p := range s.Points {
			x := (p.X - minX) / rangeX * float64(width)
			y := float64(height) - (p.Y-minY)/rangeY*float64(height)
			if i == 0 {
				sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
			} else {
				sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
			}
		}
		sb.WriteString("\"/>\n")
	}

	sb.WriteString(`<g font-family="monospace" font-size="12">` + "\n")
	for i, s := range drawn {
		y := 18 + 16*i
		sb.WriteString(fmt.Sprintf(`<line x1="10" y1="%d" x2="30" y2="%d" stroke="%s" stroke-width="2"/>`, y-4, y-4, s.Color))
		sb.WriteString(fmt.Sprintf(`<text x="36" y="%d" fill="#dddddd">%s</text>`+"\n", y, escape(s.Label)))
	}
	sb.WriteString(fmt.Sprintf(`<text x="%d" y="%d" fill="#888899" text-anchor="end">%s</text>`+"\n", width-8, height-8, escape(xLabel)))
	sb.WriteString(fmt.Sprintf(`<text x="8" y="%d" fill="#888899">%s</text>`+"\n", height-8, escape(yLabel)))
	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

func WritePhaseSVG(path string, series []Series, width, height int, xLabel, yLabel string) error {
	svg := PhaseSVG(series, width, height, xLabel, yLabel)
	if svg == "" {
		return fmt.Errorf("export: nothing to draw for %s", path)
	}
	return os.WriteFile(path, []byte(svg), 0644)
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string { return escaper.Replace(s) }
