// Package svgraster paints parsed SVG documents on RGBA images with rasterx.
package svgraster

import (
	"image"
	"image/color"

	"github.com/benoitkugler/okrender/svgicon"
	"github.com/benoitkugler/okrender/svgpath"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

var _ svgicon.ImageCanvas = (*Renderer)(nil)

// ImageSource returns the decoded image of an image element, or nil
// when it is not available (yet).
type ImageSource func(href string) image.Image

// Renderer paints icons with rasterx.
// The filler and the dasher share the scanner, since
// paths are filled then stroked one after the other.
type Renderer struct {
	filler *rasterx.Filler
	dasher *rasterx.Dasher

	dst    draw.Image  // target of the image elements, may be nil
	images ImageSource // may be nil
}

// NewRenderer returns a renderer drawing on scanner. Image elements are
// resolved with images and composed on dst; either may be nil to skip them.
func NewRenderer(width, height int, scanner rasterx.Scanner, dst draw.Image, images ImageSource) *Renderer {
	return &Renderer{
		dasher: rasterx.NewDasher(width, height, scanner),
		filler: rasterx.NewFiller(width, height, scanner),
		dst:    dst,
		images: images,
	}
}

// Image implements svgicon.ImageCanvas, with a bilinear transform of the
// source pixels.
func (rd *Renderer) Image(ref svgicon.ImageRef, m svgpath.Matrix2D, opacity float64) {
	if rd.dst == nil || rd.images == nil || opacity <= 0 {
		return
	}
	src := rd.images(ref.Href)
	if src == nil || src.Bounds().Empty() {
		return
	}
	sb := src.Bounds()
	kx, ky := ref.W/float64(sb.Dx()), ref.H/float64(sb.Dy())
	x, y := ref.X, ref.Y
	if !ref.Stretch { // xMidYMid meet
		k := min(kx, ky)
		x += (ref.W - k*float64(sb.Dx())) / 2
		y += (ref.H - k*float64(sb.Dy())) / 2
		kx, ky = k, k
	}
	x -= kx * float64(sb.Min.X)
	y -= ky * float64(sb.Min.Y)
	s2d := f64.Aff3{
		m.A * kx, m.C * ky, m.A*x + m.C*y + m.E,
		m.B * kx, m.D * ky, m.B*x + m.D*y + m.F,
	}
	var opts *draw.Options
	if opacity < 1 {
		opts = &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: uint8(opacity * 0xff)})}
	}
	draw.BiLinear.Transform(rd.dst, s2d, src, sb, draw.Over, opts)
}

// Fill implements svgicon.Canvas.
func (rd *Renderer) Fill(path svgpath.Path, nonZero bool, paint svgicon.Pattern, opacity float64) {
	rd.filler.Clear()
	rd.filler.SetWinding(nonZero)
	path.DrawTo(rd.filler, svgpath.Identity)
	setColorFromPattern(paint, opacity, rd.filler.Scanner)
	rd.filler.Draw()
	rd.filler.SetWinding(true)
}

// Stroke implements svgicon.Canvas.
func (rd *Renderer) Stroke(path svgpath.Path, st svgicon.Stroke, paint svgicon.Pattern, opacity float64) {
	rd.dasher.Clear()
	rd.dasher.SetStroke(
		fixed.Int26_6(st.Width*64), fixed.Int26_6(st.MiterLimit*64),
		capToFunc[st.LeadCap], capToFunc[st.TrailCap], gapToFunc[st.Gap],
		joinToJoin[st.Join], st.Dash, st.DashOffset,
	)
	path.DrawTo(rd.dasher, svgpath.Identity)
	setColorFromPattern(paint, opacity, rd.dasher.Scanner)
	rd.dasher.Draw()
}

// Rasterize draws the icon, scaled to fit a w x h image. Image elements
// are resolved with images, which may be nil.
// Without anti aliasing, the partially covered pixels are snapped
// to fully opaque or transparent.
func Rasterize(icon *svgicon.SvgIcon, w, h int, antiAlias bool, images ImageSource) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	icon.Draw(NewRenderer(w, h, scanner, img, images), 1.0)
	if !antiAlias {
		snapAlpha(img)
	}
	return img
}

func snapAlpha(img *image.RGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		px := img.Pix[i : i+4 : i+4]
		a := uint32(px[3])
		switch {
		case a == 0xff:
		case a < 0x80:
			px[0], px[1], px[2], px[3] = 0, 0, 0, 0
		default: // un-premultiply
			for j := 0; j < 3; j++ {
				px[j] = uint8(min(uint32(px[j])*0xff/a, 0xff))
			}
			px[3] = 0xff
		}
	}
}

func toRasterxGradient(grad svgicon.Gradient) rasterx.Gradient {
	var (
		points   [5]float64
		isRadial bool
	)
	switch dir := grad.Direction.(type) {
	case svgicon.Linear:
		points[0], points[1], points[2], points[3] = dir[0], dir[1], dir[2], dir[3]
	case svgicon.Radial:
		points[0], points[1], points[2], points[3], points[4] = dir[0], dir[1], dir[2], dir[3], dir[4] // in rasterx fr is ignored
		isRadial = true
	}
	stops := make([]rasterx.GradStop, len(grad.Stops))
	for i, s := range grad.Stops {
		stops[i] = rasterx.GradStop{StopColor: s.StopColor, Offset: s.Offset, Opacity: s.Opacity}
	}
	out := rasterx.Gradient{
		Points:   points,
		Stops:    stops,
		Matrix:   rasterx.Matrix2D(grad.Matrix),
		Spread:   spreadToSpread[grad.Spread],
		Units:    unitsToUnits[grad.Units],
		IsRadial: isRadial,
	}
	out.Bounds.X, out.Bounds.Y, out.Bounds.W, out.Bounds.H = grad.Bounds.X, grad.Bounds.Y, grad.Bounds.W, grad.Bounds.H
	return out
}

// resolve gradient color
func setColorFromPattern(pattern svgicon.Pattern, opacity float64, scanner rasterx.Scanner) {
	switch fillerColor := pattern.(type) {
	case svgicon.PlainColor:
		opaque := fillerColor.NRGBA
		opaque.A = 0xff
		scanner.SetColor(rasterx.ApplyOpacity(opaque, opacity*float64(fillerColor.A)/0xff))
	case svgicon.Gradient:
		if fillerColor.Units == svgicon.ObjectBoundingBox {
			fRect := scanner.GetPathExtent()
			mnx, mny := float64(fRect.Min.X)/64, float64(fRect.Min.Y)/64
			mxx, mxy := float64(fRect.Max.X)/64, float64(fRect.Max.Y)/64
			fillerColor.Bounds = svgicon.Bounds{X: mnx, Y: mny, W: mxx - mnx, H: mxy - mny}
		}
		rasterxGradient := toRasterxGradient(fillerColor)
		scanner.SetColor(rasterxGradient.GetColorFunction(opacity))
	default:
		scanner.SetColor(color.Transparent)
	}
}

var (
	// the two enums do not share the same order
	joinToJoin = [...]rasterx.JoinMode{
		svgicon.Arc:       rasterx.Arc,
		svgicon.Round:     rasterx.Round,
		svgicon.Bevel:     rasterx.Bevel,
		svgicon.Miter:     rasterx.Miter,
		svgicon.MiterClip: rasterx.MiterClip,
		svgicon.ArcClip:   rasterx.ArcClip,
	}

	capToFunc = [...]rasterx.CapFunc{
		svgicon.NilCap:       rasterx.ButtCap,
		svgicon.ButtCap:      rasterx.ButtCap,
		svgicon.SquareCap:    rasterx.SquareCap,
		svgicon.RoundCap:     rasterx.RoundCap,
		svgicon.CubicCap:     rasterx.CubicCap,
		svgicon.QuadraticCap: rasterx.QuadraticCap,
	}

	gapToFunc = [...]rasterx.GapFunc{
		svgicon.NilGap:       rasterx.FlatGap,
		svgicon.FlatGap:      rasterx.FlatGap,
		svgicon.RoundGap:     rasterx.RoundGap,
		svgicon.CubicGap:     rasterx.CubicGap,
		svgicon.QuadraticGap: rasterx.QuadraticGap,
	}

	spreadToSpread = [...]rasterx.SpreadMethod{
		svgicon.PadSpread:     rasterx.PadSpread,
		svgicon.ReflectSpread: rasterx.ReflectSpread,
		svgicon.RepeatSpread:  rasterx.RepeatSpread,
	}

	unitsToUnits = [...]rasterx.GradientUnits{
		svgicon.ObjectBoundingBox: rasterx.ObjectBoundingBox,
		svgicon.UserSpaceOnUse:    rasterx.UserSpaceOnUse,
	}
)
