package viz

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Braille cells hold 2x4 dots; bit values by [row][col] within a cell.
var brailleDots = [4][2]rune{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

const brailleBlank = 0x2800

// Canvas is a grid of Braille cells addressed in dot coordinates, so its
// resolution is (2*Width) x (4*Height).
type Canvas struct {
	Width, Height int
	cells         [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{Width: w, Height: h, cells: make([][]rune, h)}
	for i := range c.cells {
		c.cells[i] = make([]rune, w)
		for j := range c.cells[i] {
			c.cells[i][j] = brailleBlank
		}
	}
	return c
}

// Set lights the dot at (x, y); dots outside the canvas are ignored.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 || x >= 2*c.Width || y >= 4*c.Height {
		return
	}
	c.cells[y/4][x/2] |= brailleDots[y%4][x%2]
}

// DrawLine joins two dots with Bresenham's algorithm.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx, dy := abs(x1-x0), abs(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy

	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.cells {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Camera orients a trajectory before orthographic projection: a rotation
// about the vertical axis (Yaw) followed by one about the horizontal axis
// (Pitch), both in radians.
type Camera struct {
	Yaw, Pitch float64
}

// DefaultCamera shows the Lorenz butterfly from slightly above.
func DefaultCamera() Camera {
	return Camera{Yaw: 0.6, Pitch: -0.3}
}

// project maps (x, y, z) to screen (u, v) with z pointing up.
func (c Camera) project(x, y, z float64) (u, v float64) {
	cy, sy := math.Cos(c.Yaw), math.Sin(c.Yaw)
	x, y = x*cy-y*sy, x*sy+y*cy
	cp, sp := math.Cos(c.Pitch), math.Sin(c.Pitch)
	return x, z*cp - y*sp
}

// RenderAttractor draws the first three columns of traj as a connected
// polyline on a width x height cell canvas, scaled to fill it.
func RenderAttractor(traj *mat.Dense, cam Camera, width, height int) string {
	c := NewCanvas(width, height)
	r, cols := traj.Dims()
	if r == 0 || cols < 3 || width <= 0 || height <= 0 {
		return c.String()
	}

	us := make([]float64, r)
	vs := make([]float64, r)
	for i := 0; i < r; i++ {
		us[i], vs[i] = cam.project(traj.At(i, 0), traj.At(i, 1), traj.At(i, 2))
	}
	uMin, uMax := extent(us)
	vMin, vMax := extent(vs)
	span := math.Max(uMax-uMin, vMax-vMin)
	if span == 0 {
		span = 1
	}

	dotsW, dotsH := float64(2*width-1), float64(4*height-1)
	scale := math.Min(dotsW, dotsH) / span
	offU := (dotsW - (uMax-uMin)*scale) / 2
	offV := (dotsH - (vMax-vMin)*scale) / 2

	px, py := 0, 0
	for i := range us {
		x := int(offU + (us[i]-uMin)*scale)
		y := int(dotsH - offV - (vs[i]-vMin)*scale)
		if i == 0 {
			c.Set(x, y)
		} else {
			c.DrawLine(px, py, x, y)
		}
		px, py = x, y
	}
	return c.String()
}

func extent(v []float64) (lo, hi float64) {
	lo, hi = v[0], v[0]
	for _, x := range v {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	return lo, hi
}
