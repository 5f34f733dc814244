package svgpath

import (
	"math"

	"golang.org/x/image/math/fixed"
)

// Exact extent of curves: the extrema of a bezier segment are reached
// at its ends or where the derivative vanishes.

func fixedTof(p fixed.Point26_6) (x, y float64) {
	return float64(p.X) / 64, float64(p.Y) / 64
}

// bezierAt evaluates the 1D bezier curve of control values `ps` at t.
func bezierAt(ps []float64, t float64) float64 {
	switch len(ps) {
	case 2:
		return (ps[1]-ps[0])*t + ps[0]
	case 3:
		// At^2 + Bt + C
		return (ps[0]+ps[2]-2*ps[1])*t*t + 2*(ps[1]-ps[0])*t + ps[0]
	case 4:
		// At^3 + Bt^2 + Ct + D
		return (ps[3]-3*ps[2]+3*ps[1]-ps[0])*t*t*t +
			(3*ps[2]-6*ps[1]+3*ps[0])*t*t +
			(3*ps[1]-3*ps[0])*t +
			ps[0]
	}
	return ps[0]
}

// criticalTimes returns the t zeroing the derivative of the 1D curve.
func criticalTimes(ps []float64) []float64 {
	switch len(ps) {
	case 3: // derivative is at + b
		a, b := 2*(ps[2]-2*ps[1]+ps[0]), 2*(ps[1]-ps[0])
		if a == 0 {
			return nil
		}
		return []float64{-b / a}
	case 4: // derivative is at^2 + bt + c
		a := 3*ps[3] - 9*ps[2] + 9*ps[1] - 3*ps[0]
		b := 6*ps[2] - 12*ps[1] + 6*ps[0]
		c := 3*ps[1] - 3*ps[0]
		return quadraticRoots(a, b, c)
	}
	return nil
}

func quadraticRoots(a, b, c float64) []float64 {
	if a == 0 {
		if b == 0 {
			return nil
		}
		return []float64{-c / b}
	}
	d := b*b - 4*a*c
	switch {
	case d < 0:
		return nil
	case d == 0:
		return []float64{-b / (2 * a)}
	}
	sq := math.Sqrt(d)
	return []float64{(-b + sq) / (2 * a), (-b - sq) / (2 * a)}
}

type extent struct {
	minX, minY, maxX, maxY float64
	empty                  bool
}

func (e *extent) add(x, y float64) {
	if e.empty {
		*e = extent{minX: x, minY: y, maxX: x, maxY: y}
		return
	}
	e.minX, e.minY = math.Min(e.minX, x), math.Min(e.minY, y)
	e.maxX, e.maxY = math.Max(e.maxX, x), math.Max(e.maxY, y)
}

// addCurve adds the exact extent of the bezier segment with control points pts.
func (e *extent) addCurve(pts ...fixed.Point26_6) {
	xs, ys := make([]float64, len(pts)), make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = fixedTof(p)
	}
	e.add(xs[len(xs)-1], ys[len(ys)-1])
	for _, t := range append(criticalTimes(xs), criticalTimes(ys)...) {
		if 0 < t && t < 1 {
			e.add(bezierAt(xs, t), bezierAt(ys, t))
		}
	}
}

// Extent returns the exact bounding box of the path transformed by m,
// or an empty rectangle for an empty path.
// Contrary to Bounds, control points outside the curves are not included.
func (p Path) Extent(m Matrix2D) fixed.Rectangle26_6 {
	e := extent{empty: true}
	var start, current fixed.Point26_6
	for _, op := range p {
		switch op := op.(type) {
		case MoveTo:
			start = m.TFixed(fixed.Point26_6(op))
			current = start
			e.add(fixedTof(current))
		case LineTo:
			b := m.TFixed(fixed.Point26_6(op))
			e.addCurve(current, b)
			current = b
		case QuadTo:
			b, c := m.TFixed(op[0]), m.TFixed(op[1])
			e.addCurve(current, b, c)
			current = c
		case CubicTo:
			b, c, d := m.TFixed(op[0]), m.TFixed(op[1]), m.TFixed(op[2])
			e.addCurve(current, b, c, d)
			current = d
		case Close:
			current = start
		}
	}
	if e.empty {
		return fixed.Rectangle26_6{}
	}
	return fixed.Rectangle26_6{
		Min: toFixedP(e.minX, e.minY),
		Max: toFixedP(e.maxX, e.maxY),
	}
}
