package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/dynamo"
)

type Point struct{ X, Y float64 }

// Portrait is a trajectory projected onto two state coordinates.
type Portrait struct {
	XIndex, YIndex int
	Points         []Point
}

// NewPortrait projects the rows of traj onto columns xIdx and yIdx.
func NewPortrait(traj *mat.Dense, xIdx, yIdx int) (*Portrait, error) {
	r, c := traj.Dims()
	if xIdx < 0 || yIdx < 0 || xIdx >= c || yIdx >= c {
		return nil, fmt.Errorf("%w: projection (%d, %d) of %d columns", dynamo.ErrDimensionMismatch, xIdx, yIdx, c)
	}

	p := &Portrait{
		XIndex: xIdx,
		YIndex: yIdx,
		Points: make([]Point, r),
	}
	for i := 0; i < r; i++ {
		p.Points[i] = Point{X: traj.At(i, xIdx), Y: traj.At(i, yIdx)}
	}
	return p, nil
}

// Bounds returns the extent of all points of all portraits, padded by 10%
// on each side. A degenerate axis gets a unit range.
func Bounds(portraits ...*Portrait) (minX, maxX, minY, maxY float64) {
	first := true
	for _, p := range portraits {
		for _, pt := range p.Points {
			if first {
				minX, maxX, minY, maxY = pt.X, pt.X, pt.Y, pt.Y
				first = false
				continue
			}
			minX, maxX = min(minX, pt.X), max(maxX, pt.X)
			minY, maxY = min(minY, pt.Y), max(maxY, pt.Y)
		}
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	return minX - rangeX*0.1, maxX + rangeX*0.1, minY - rangeY*0.1, maxY + rangeY*0.1
}
