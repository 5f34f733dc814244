// Implements an abstract representation of
// svg paths, which can then be consumed
// by painting driver
package svgpath

import (
	"fmt"
	"strings"

	"golang.org/x/image/math/fixed"
)

// Adder is implemented by types that accumulate path commands,
// such as the rasterizers of a painting driver.
type Adder interface {
	// Start starts a new curve at the given point.
	Start(a fixed.Point26_6)
	// Line adds a line segment to the path
	Line(b fixed.Point26_6)
	// QuadBezier adds a quadratic bezier curve to the path
	QuadBezier(b, c fixed.Point26_6)
	// CubeBezier adds a cubic bezier curve to the path
	CubeBezier(b, c, d fixed.Point26_6)
	// Closes the path to the start point if closeLoop is true
	Stop(closeLoop bool)
}

// Operation groups the different SVG commands
type Operation interface {
	// add itself on the adder `a`, after applying the transform `M`
	drawTo(a Adder, M Matrix2D)
}

type MoveTo fixed.Point26_6

type LineTo fixed.Point26_6

type QuadTo [2]fixed.Point26_6

type CubicTo [3]fixed.Point26_6

type Close struct{}

// starts a new path at the given point.
func (op MoveTo) drawTo(a Adder, M Matrix2D) {
	a.Stop(false) // implicit close if currently in path.
	a.Start(M.TFixed(fixed.Point26_6(op)))
}

func (op LineTo) drawTo(a Adder, M Matrix2D) {
	a.Line(M.TFixed(fixed.Point26_6(op)))
}

func (op QuadTo) drawTo(a Adder, M Matrix2D) {
	a.QuadBezier(M.TFixed(op[0]), M.TFixed(op[1]))
}

func (op CubicTo) drawTo(a Adder, M Matrix2D) {
	a.CubeBezier(M.TFixed(op[0]), M.TFixed(op[1]), M.TFixed(op[2]))
}

func (op Close) drawTo(a Adder, _ Matrix2D) {
	a.Stop(true)
}

// Path describes a sequence of basic SVG operations, which should not be nil
// Higher-level shapes may be reduced to a path.
type Path []Operation

// DrawTo sends the path to `a`, transformed by `M`,
// and terminates the last curve.
func (p Path) DrawTo(a Adder, M Matrix2D) {
	for _, op := range p {
		op.drawTo(a, M)
	}
	a.Stop(false)
}

// Transform returns a copy of the path mapped by M.
func (p Path) Transform(M Matrix2D) Path {
	out := make(Path, len(p))
	for i, op := range p {
		switch op := op.(type) {
		case MoveTo:
			out[i] = MoveTo(M.TFixed(fixed.Point26_6(op)))
		case LineTo:
			out[i] = LineTo(M.TFixed(fixed.Point26_6(op)))
		case QuadTo:
			out[i] = QuadTo{M.TFixed(op[0]), M.TFixed(op[1])}
		case CubicTo:
			out[i] = CubicTo{M.TFixed(op[0]), M.TFixed(op[1]), M.TFixed(op[2])}
		default:
			out[i] = op
		}
	}
	return out
}

func fmtPoint(p fixed.Point26_6) string {
	return fmt.Sprintf("%4.3f,%4.3f", float32(p.X)/64, float32(p.Y)/64)
}

// ToSVGPath returns a string representation of the path
func (p Path) ToSVGPath() string {
	chunks := make([]string, len(p))
	for i, op := range p {
		switch op := op.(type) {
		case MoveTo:
			chunks[i] = "M" + fmtPoint(fixed.Point26_6(op))
		case LineTo:
			chunks[i] = "L" + fmtPoint(fixed.Point26_6(op))
		case QuadTo:
			chunks[i] = "Q" + fmtPoint(op[0]) + "," + fmtPoint(op[1])
		case CubicTo:
			chunks[i] = "C" + fmtPoint(op[0]) + "," + fmtPoint(op[1]) + "," + fmtPoint(op[2])
		case Close:
			chunks[i] = "Z"
		}
	}
	return strings.Join(chunks, " ")
}

// String returns a readable representation of a Path.
func (p Path) String() string {
	return p.ToSVGPath()
}

// Clear zeros the path slice
func (p *Path) Clear() {
	*p = (*p)[:0]
}

// Start starts a new curve at the given point.
func (p *Path) Start(a fixed.Point26_6) {
	*p = append(*p, MoveTo(a))
}

// Line adds a linear segment to the current curve.
func (p *Path) Line(b fixed.Point26_6) {
	*p = append(*p, LineTo(b))
}

// QuadBezier adds a quadratic segment to the current curve.
func (p *Path) QuadBezier(b, c fixed.Point26_6) {
	*p = append(*p, QuadTo{b, c})
}

// CubeBezier adds a cubic segment to the current curve.
func (p *Path) CubeBezier(b, c, d fixed.Point26_6) {
	*p = append(*p, CubicTo{b, c, d})
}

// Stop joins the ends of the path
func (p *Path) Stop(closeLoop bool) {
	if closeLoop {
		*p = append(*p, Close{})
	}
}

// Bounds returns the extent of the untransformed control points of the path.
func (p Path) Bounds() (minX, minY, maxX, maxY float64) {
	first := true
	add := func(pt fixed.Point26_6) {
		x, y := float64(pt.X)/64, float64(pt.Y)/64
		if first {
			minX, minY, maxX, maxY = x, y, x, y
			first = false
			return
		}
		minX, minY = min(minX, x), min(minY, y)
		maxX, maxY = max(maxX, x), max(maxY, y)
	}
	for _, op := range p {
		switch op := op.(type) {
		case MoveTo:
			add(fixed.Point26_6(op))
		case LineTo:
			add(fixed.Point26_6(op))
		case QuadTo:
			add(op[0])
			add(op[1])
		case CubicTo:
			add(op[0])
			add(op[1])
			add(op[2])
		}
	}
	return
}
