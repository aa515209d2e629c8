package viz

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var Panel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#444466")).
	Padding(0, 1)

var Title = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#00ffff"))

var Subtle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#666688"))

var StatusRunning = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#00ff88"))

var StatusDone = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#00ccff"))

var StatusFailed = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#ff4444"))

var MetricValue = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#00ccff")).
	Bold(true)

var MetricLabel = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#888899"))

var KeyHint = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#666688")).
	Italic(true)

var Header = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#ffffff")).
	BorderStyle(lipgloss.NormalBorder()).
	BorderBottom(true).
	BorderForeground(lipgloss.Color("#444466"))

var (
	barHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	barMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00"))
	barLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

// KV renders "label value" with the metric styles.
func KV(label string, format string, args ...any) string {
	return MetricLabel.Render(label) + " " + MetricValue.Render(fmt.Sprintf(format, args...))
}

// ProgressBar renders a bar filled to fraction (0..1) of width cells.
func ProgressBar(fraction float64, width int) string {
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	switch {
	case fraction > 0.8:
		return barHigh.Render(bar)
	case fraction > 0.4:
		return barMid.Render(bar)
	}
	return barLow.Render(bar)
}

// Sparkline renders values as one row of block characters, sampled down to
// at most width cells.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}

	var b strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - lo) / span
		idx := int(norm * float64(len(chars)-1))
		idx = max(0, min(idx, len(chars)-1))
		b.WriteRune(chars[idx])
	}
	return b.String()
}

func Separator(width int) string {
	mid := width / 2
	left := strings.Repeat("─", max(mid-3, 0))
	right := strings.Repeat("─", max(width-mid-3, 0))
	return Subtle.Render(left + " ◆ " + right)
}
