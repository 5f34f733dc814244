package svgicon

import (
	"strings"
	"testing"

	"github.com/benoitkugler/okrender/svgpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/fixed"
)

func parseIcon(t *testing.T, src string, mode ErrorMode) *SvgIcon {
	t.Helper()
	icon, err := ReadIconStream(strings.NewReader(src), mode)
	require.NoError(t, err)
	return icon
}

const shapes = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 50" width="200px" height="100">
  <title>Shapes</title>
  <desc>A few basic shapes</desc>
  <g fill="red" stroke="#00f" stroke-width="2">
    <rect x="10" y="10" width="20" height="10"/>
    <circle cx="50" cy="25" r="5" fill="none"/>
    <ellipse cx="70" cy="25" rx="5" ry="3" style="fill-opacity: 0.5; stroke: none"/>
  </g>
  <line x1="0" y1="0" x2="100" y2="50" stroke="black"/>
  <polygon points="0,0 10,0 10,10"/>
  <polyline points="0 0 5 5 10 0" fill="none" stroke="green"/>
  <path d="M0 0 L10 10 Z" transform="translate(5, 5) scale(2)"/>
</svg>`

func TestParseShapes(t *testing.T) {
	icon := parseIcon(t, shapes, StrictErrorMode)

	assert.Equal(t, Bounds{0, 0, 100, 50}, icon.ViewBox)
	assert.Equal(t, "200px", icon.Width)
	assert.Equal(t, []string{"Shapes"}, icon.Titles)
	assert.Equal(t, []string{"A few basic shapes"}, icon.Descriptions)
	require.Len(t, icon.SVGPaths, 7)

	rect := icon.SVGPaths[0]
	assert.Equal(t, NewPlainColor(0xff, 0, 0, 0xff), rect.Style.FillerColor)
	assert.Equal(t, NewPlainColor(0, 0, 0xff, 0xff), rect.Style.LinerColor)
	assert.Equal(t, 2., rect.Style.Stroke.Width)
	minX, minY, maxX, maxY := rect.Path.Bounds()
	assert.Equal(t, [4]float64{10, 10, 30, 20}, [4]float64{minX, minY, maxX, maxY})

	circle := icon.SVGPaths[1]
	assert.Nil(t, circle.Style.FillerColor)
	assert.NotNil(t, circle.Style.LinerColor)

	ellipse := icon.SVGPaths[2]
	assert.Equal(t, 0.5, ellipse.Style.FillOpacity)
	assert.Nil(t, ellipse.Style.LinerColor)

	// styles do not leak out of the group
	line := icon.SVGPaths[3]
	assert.Equal(t, DefaultStyle.FillerColor, line.Style.FillerColor)
	assert.Equal(t, 1., line.Style.Stroke.Width)

	polygon := icon.SVGPaths[4]
	assert.IsType(t, svgpath.Close{}, polygon.Path[len(polygon.Path)-1])

	path := icon.SVGPaths[6]
	x, y := path.Style.transform.Transform(10, 10)
	assert.InDelta(t, 25, x, 1e-9)
	assert.InDelta(t, 25, y, 1e-9)
}

func TestParseTransform(t *testing.T) {
	for _, test := range []struct {
		in         string
		x, y       float64
		expX, expY float64
	}{
		{"translate(10)", 1, 1, 11, 1},
		{"scale(3)", 1, 2, 3, 6},
		{"rotate(90)", 1, 0, 0, 1},
		{"rotate(180, 5, 5)", 0, 0, 10, 10},
		{"matrix(1 0 0 1 4 5)", 0, 0, 4, 5},
		{"translate(1,1), scale(2 4)", 1, 1, 3, 5},
	} {
		m, err := parseTransform(svgpath.Identity, test.in)
		require.NoError(t, err, test.in)
		x, y := m.Transform(test.x, test.y)
		assert.InDelta(t, test.expX, x, 1e-9, test.in)
		assert.InDelta(t, test.expY, y, 1e-9, test.in)
	}

	for _, in := range []string{"rotate(1, 2)", "scale()", "shear(2)", "translate 2"} {
		_, err := parseTransform(svgpath.Identity, in)
		assert.Error(t, err, in)
	}
}

const gradients = `<svg viewBox="0 0 10 10">
  <defs>
    <linearGradient id="lin" x1="0%" x2="100%" gradientUnits="userSpaceOnUse" spreadMethod="reflect">
      <stop offset="0" stop-color="white"/>
      <stop offset="50%" stop-color="#000" stop-opacity="0.5"/>
    </linearGradient>
    <radialGradient id="rad" cx="0.3" r="0.4">
      <stop offset="1" stop-color="blue"/>
    </radialGradient>
  </defs>
  <rect width="10" height="10" fill="url(#lin)" stroke="url('#rad')"/>
</svg>`

func TestParseGradients(t *testing.T) {
	icon := parseIcon(t, gradients, StrictErrorMode)
	require.Len(t, icon.SVGPaths, 1)
	st := icon.SVGPaths[0].Style

	lin, ok := st.FillerColor.(Gradient)
	require.True(t, ok)
	assert.Equal(t, Linear{0, 0, 1, 0}, lin.Direction)
	assert.Equal(t, UserSpaceOnUse, lin.Units)
	assert.Equal(t, ReflectSpread, lin.Spread)
	require.Len(t, lin.Stops, 2)
	assert.Equal(t, 0.5, lin.Stops[1].Offset)
	assert.Equal(t, 0.5, lin.Stops[1].Opacity)

	rad, ok := st.LinerColor.(Gradient)
	require.True(t, ok)
	assert.Equal(t, Radial{0.3, 0.5, 0.3, 0.5, 0.4, 0.5}, rad.Direction)
	assert.Equal(t, ObjectBoundingBox, rad.Units)
}

const uses = `<svg viewBox="0 0 20 20">
  <defs>
    <rect id="box" width="2" height="2" fill="green"/>
    <g id="pair" stroke="red">
      <circle cx="1" cy="1" r="1"/>
      <path d="M0 0 H 2"/>
    </g>
  </defs>
  <use href="#box" x="5" y="6"/>
  <use xlink:href="#pair" x="10" fill="none"/>
</svg>`

func TestParseUse(t *testing.T) {
	icon := parseIcon(t, uses, StrictErrorMode)
	require.Len(t, icon.SVGPaths, 3)

	box := icon.SVGPaths[0]
	minX, minY, _, _ := box.Path.Bounds()
	assert.Equal(t, 5., minX)
	assert.Equal(t, 6., minY)
	assert.Equal(t, NewPlainColor(0, 0x80, 0, 0xff), box.Style.FillerColor)

	circle := icon.SVGPaths[1]
	assert.Nil(t, circle.Style.FillerColor)
	assert.Equal(t, NewPlainColor(0xff, 0, 0, 0xff), circle.Style.LinerColor)

	line := icon.SVGPaths[2]
	assert.Equal(t, svgpath.LineTo{X: fixed.I(12), Y: 0}, line.Path[1])
}

func TestErrorModes(t *testing.T) {
	const unknown = `<svg viewBox="0 0 1 1"><foreignObject/><rect width="1" height="1"/></svg>`
	icon := parseIcon(t, unknown, IgnoreErrorMode)
	assert.Len(t, icon.SVGPaths, 1)

	icon = parseIcon(t, unknown, WarnErrorMode)
	assert.Len(t, icon.SVGPaths, 1)

	_, err := ReadIconStream(strings.NewReader(unknown), StrictErrorMode)
	assert.ErrorIs(t, err, errUnknownTag)

	const missingGrad = `<svg viewBox="0 0 1 1"><rect width="1" height="1" fill="url(#nope)"/></svg>`
	_, err = ReadIconStream(strings.NewReader(missingGrad), StrictErrorMode)
	assert.ErrorIs(t, err, errNoGradient)
	icon = parseIcon(t, missingGrad, IgnoreErrorMode)
	assert.Nil(t, icon.SVGPaths[0].Style.FillerColor)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"not xml at all",
		`<svg viewBox="0 0 1"/>`,
		`<svg><path d="M 1"/></svg>`,
		`<svg><rect width="abc"/></svg>`,
		`<svg><rect fill="notacolor" width="1" height="1"/></svg>`,
		`<svg><g>`,
	} {
		_, err := ReadIconStream(strings.NewReader(src), IgnoreErrorMode)
		assert.Error(t, err, src)
	}
}

func TestSetTarget(t *testing.T) {
	icon := parseIcon(t, `<svg viewBox="10 10 20 40"/>`, StrictErrorMode)
	icon.SetTarget(0, 0, 40, 40)
	x, y := icon.Transform.Transform(10, 10)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)
	x, y = icon.Transform.Transform(30, 50)
	assert.InDelta(t, 40, x, 1e-9)
	assert.InDelta(t, 40, y, 1e-9)
}

type recordingCanvas struct {
	fills, strokes int
	strokeStyles   []Stroke
	last           svgpath.Path
}

func (c *recordingCanvas) Fill(p svgpath.Path, nonZero bool, paint Pattern, opacity float64) {
	c.fills++
	c.last = p
}

func (c *recordingCanvas) Stroke(p svgpath.Path, s Stroke, paint Pattern, opacity float64) {
	c.strokes++
	c.strokeStyles = append(c.strokeStyles, s)
	c.last = p
}

func TestDraw(t *testing.T) {
	icon := parseIcon(t, shapes, StrictErrorMode)
	icon.SetTarget(0, 0, 200, 100)
	var c recordingCanvas
	icon.Draw(&c, 1)
	// circle and polyline are not filled, ellipse is not stroked
	assert.Equal(t, 5, c.fills)
	assert.Equal(t, 4, c.strokes)
	// stroke widths follow the scale of the target, defaults are resolved
	assert.Equal(t, 4., c.strokeStyles[0].Width)
	assert.Equal(t, ButtCap, c.strokeStyles[0].LeadCap)
	assert.Equal(t, FlatGap, c.strokeStyles[0].Gap)
	// the last path is given in device space
	assert.Equal(t, svgpath.MoveTo{X: fixed.I(10), Y: fixed.I(10)}, c.last[0])
}

func TestStrokeKeywords(t *testing.T) {
	icon := parseIcon(t, `<svg><path d="M0 0 L1 1" stroke="red" stroke-linejoin="miter-clip"
	stroke-linecap="round" stroke-linegap="cubic" stroke-dasharray="1 2" stroke-miterlimit="7"/></svg>`, StrictErrorMode)
	st := icon.SVGPaths[0].Style.Stroke
	assert.Equal(t, MiterClip, st.Join)
	assert.Equal(t, RoundCap, st.TrailCap)
	assert.Equal(t, NilCap, st.LeadCap)
	assert.Equal(t, CubicGap, st.Gap)
	assert.Equal(t, []float64{1, 2}, st.Dash)
	assert.Equal(t, 7., st.MiterLimit)
	assert.Equal(t, "miter-clip", st.Join.String())
	assert.Equal(t, "<svgicon.CapMode 0>", NilCap.String())

	// unknown keywords keep the inherited value
	icon = parseIcon(t, `<svg><path d="M0 0" stroke-linejoin="wobbly"/></svg>`, StrictErrorMode)
	assert.Equal(t, Bevel, icon.SVGPaths[0].Style.Stroke.Join)
}

func TestExtent(t *testing.T) {
	icon := parseIcon(t, `<svg>
	<circle cx="10" cy="10" r="5"/>
	<rect x="0" y="0" width="2" height="2" transform="translate(20, 30)"/>
	</svg>`, StrictErrorMode)
	ext := icon.Extent()
	assert.InDelta(t, 5, ext.X, 0.05)
	assert.InDelta(t, 5, ext.Y, 0.05)
	assert.InDelta(t, 17, ext.W, 0.05)
	assert.InDelta(t, 27, ext.H, 0.05)

	empty := parseIcon(t, `<svg/>`, StrictErrorMode)
	assert.Equal(t, Bounds{}, empty.Extent())
}

type imageCanvas struct {
	recordingCanvas
	images    []ImageRef
	opacities []float64
}

func (c *imageCanvas) Image(img ImageRef, m svgpath.Matrix2D, opacity float64) {
	c.images = append(c.images, img)
	c.opacities = append(c.opacities, opacity)
}

func TestParseImage(t *testing.T) {
	const doc = `<svg viewBox="0 0 20 20">
  <defs><image id="logo" xlink:href="logo.png" width="4" height="2"/></defs>
  <image href="a.png" x="1" y="2" width="3" height="4" preserveAspectRatio="none" opacity="0.5"/>
  <image href="empty.png" width="0" height="4"/>
  <use href="#logo" x="10" y="10"/>
</svg>`
	icon := parseIcon(t, doc, StrictErrorMode)
	assert.Equal(t, []ImageRef{
		{Href: "a.png", X: 1, Y: 2, W: 3, H: 4, Stretch: true},
		{Href: "logo.png", X: 10, Y: 10, W: 4, H: 2},
	}, icon.Images())
	assert.Equal(t, Bounds{X: 1, Y: 2, W: 13, H: 10}, icon.Extent())

	var c imageCanvas
	icon.Draw(&c, 1)
	assert.Zero(t, c.fills+c.strokes, "images are not filled")
	assert.Len(t, c.images, 2)
	assert.Equal(t, []float64{0.5, 1}, c.opacities)

	// plain canvases skip images
	var plain recordingCanvas
	icon.Draw(&plain, 1)
	assert.Zero(t, plain.fills+plain.strokes)
}
