package svgicon

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/benoitkugler/okrender/style"
	"github.com/benoitkugler/okrender/svgpath"
)

// Pattern groups a basic color and a gradient pattern.
// A nil value disables the painting (SVG "none").
type Pattern interface {
	isPattern()
}

func (PlainColor) isPattern() {}
func (Gradient) isPattern()   {}

// PlainColor is an uniform color
type PlainColor struct {
	color.NRGBA
}

// NewPlainColor returns a PlainColor from the given components.
func NewPlainColor(r, g, b, a uint8) PlainColor {
	return PlainColor{color.NRGBA{R: r, G: g, B: b, A: a}}
}

// GradientUnits is the type for gradient units
type GradientUnits byte

// SVG bounds paremater constants
const (
	ObjectBoundingBox GradientUnits = iota
	UserSpaceOnUse
)

// SpreadMethod is the type for spread parameters
type SpreadMethod byte

// SVG spread parameter constants
const (
	PadSpread SpreadMethod = iota
	ReflectSpread
	RepeatSpread
)

// GradStop represents a stop in the SVG 2.0 gradient specification
type GradStop struct {
	StopColor color.Color
	Offset    float64
	Opacity   float64
}

// Gradient holds a description of an SVG 2.0 gradient
type Gradient struct {
	Direction gradientDirecter
	Stops     []GradStop
	Bounds    Bounds
	Matrix    svgpath.Matrix2D
	Spread    SpreadMethod
	Units     GradientUnits
}

// radial or linear
type gradientDirecter interface {
	isRadial() bool
}

// Linear holds x1, y1, x2, y2
type Linear [4]float64

func (Linear) isRadial() bool { return false }

// Radial holds cx, cy, fx, fy, r, fr
type Radial [6]float64

func (Radial) isRadial() bool { return true }

var errNoGradient = errors.New("gradient not found")

// parseSVGColor handles the SVG paint values: "none" returns a nil pattern,
// "currentColor" keeps `current`.
func parseSVGColor(v string, current Pattern) (Pattern, error) {
	switch strings.TrimSpace(v) {
	case "none", "":
		return nil, nil
	case "currentColor":
		return current, nil
	}
	c, err := style.ParseColor(v)
	if err != nil {
		return nil, err
	}
	return PlainColor{c}, nil
}

// gradURL returns the ID referenced by a "url(#id)" value.
func gradURL(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "url(") || !strings.HasSuffix(v, ")") {
		return "", false
	}
	id := strings.TrimSpace(v[4 : len(v)-1])
	id = strings.Trim(id, `'"`)
	return strings.TrimPrefix(id, "#"), true
}

// readPaint resolves a fill or stroke value, which is either a color
// or a reference to a gradient defined before.
func (c *iconCursor) readPaint(v string, current Pattern) (Pattern, error) {
	id, isURL := gradURL(v)
	if !isURL {
		return parseSVGColor(v, current)
	}
	grad, ok := c.icon.grads[id]
	if !ok {
		return nil, c.handleError(fmt.Errorf("%w: %q", errNoGradient, id))
	}
	return *grad, nil
}
