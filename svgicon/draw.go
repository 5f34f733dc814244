package svgicon

import (
	"fmt"
	"math"
	"slices"

	"github.com/benoitkugler/okrender/svgpath"
	"golang.org/x/image/math/fixed"
)

// Canvas receives the paint operations of an icon, in document order.
// Paths are already mapped to device space.
type Canvas interface {
	Fill(path svgpath.Path, nonZero bool, paint Pattern, opacity float64)
	Stroke(path svgpath.Path, stroke Stroke, paint Pattern, opacity float64)
}

// ImageCanvas is a [Canvas] able to paint image elements. Other
// canvases skip them.
type ImageCanvas interface {
	Canvas
	// Image paints img, whose user space is mapped to the device by m.
	Image(img ImageRef, m svgpath.Matrix2D, opacity float64)
}

// JoinMode selects how stroke segments meet. ArcClip is an extension
// applying the miter clip to arcs.
type JoinMode uint8

const (
	Arc JoinMode = iota
	Round
	Bevel
	Miter
	MiterClip
	ArcClip
)

// CapMode selects how open stroke ends are drawn. CubicCap and
// QuadraticCap are extensions.
type CapMode uint8

const (
	NilCap CapMode = iota
	ButtCap
	SquareCap
	RoundCap
	CubicCap
	QuadraticCap
)

// GapMode selects how the convex side of a join is filled once the
// miter limit is exceeded. It is an extension.
type GapMode uint8

const (
	NilGap GapMode = iota
	FlatGap
	RoundGap
	CubicGap
	QuadraticGap
)

// attribute keywords, indexed by mode
var (
	joinKeywords = [...]string{Arc: "arc", Round: "round", Bevel: "bevel", Miter: "miter", MiterClip: "miter-clip", ArcClip: "arc-clip"}
	capKeywords  = [...]string{NilCap: "", ButtCap: "butt", SquareCap: "square", RoundCap: "round", CubicCap: "cubic", QuadraticCap: "quadratic"}
	gapKeywords  = [...]string{NilGap: "", FlatGap: "flat", RoundGap: "round", CubicGap: "cubic", QuadraticGap: "quadratic"}
)

func keyword[T ~uint8](names []string, v T) string {
	if int(v) < len(names) && names[v] != "" {
		return names[v]
	}
	return fmt.Sprintf("<%T %d>", v, v)
}

func lookupKeyword[T ~uint8](names []string, s string) (T, bool) {
	if s == "" {
		return 0, false
	}
	i := slices.Index(names, s)
	return T(max(i, 0)), i >= 0
}

func (j JoinMode) String() string { return keyword(joinKeywords[:], j) }
func (c CapMode) String() string  { return keyword(capKeywords[:], c) }
func (g GapMode) String() string  { return keyword(gapKeywords[:], g) }

// Stroke is the outline style of a path. Lengths are in user units
// while parsing, and in device units once given to a [Canvas].
type Stroke struct {
	Width      float64
	MiterLimit float64
	Join       JoinMode
	LeadCap    CapMode // NilCap means TrailCap
	TrailCap   CapMode
	Gap        GapMode
	Dash       []float64 // nil for a solid line
	DashOffset float64
}

// resolved returns the stroke seen through m, with the defaults applied.
func (s Stroke) resolved(m svgpath.Matrix2D) Stroke {
	scale := math.Sqrt(math.Abs(m.A*m.D - m.B*m.C))
	out := s
	out.Width *= scale
	if out.TrailCap == NilCap {
		out.TrailCap = ButtCap
	}
	if out.LeadCap == NilCap {
		out.LeadCap = out.TrailCap
	}
	if out.Gap == NilGap {
		out.Gap = FlatGap
	}
	if len(s.Dash) != 0 {
		out.Dash = make([]float64, len(s.Dash))
		for i, v := range s.Dash {
			out.Dash[i] = v * scale
		}
		out.DashOffset *= scale
	}
	return out
}

// DefaultStyle is the initial style of the document: opaque black
// fill with the non zero rule, no stroke.
var DefaultStyle = PathStyle{
	FillOpacity:       1,
	LineOpacity:       1,
	UseNonZeroWinding: true,
	Stroke:            Stroke{Width: 1, MiterLimit: 4, Join: Bevel, TrailCap: ButtCap, Gap: FlatGap},
	FillerColor:       NewPlainColor(0x00, 0x00, 0x00, 0xff),
	transform:         svgpath.Identity,
}

func fToFixed(f float64) fixed.Int26_6 { return fixed.Int26_6(f * 64) }

// Draw paints the icon on c, mapped by the icon Transform. A nil
// paint disables the fill or the stroke of a path. Image elements are
// only painted by an [ImageCanvas].
func (s *SvgIcon) Draw(c Canvas, opacity float64) {
	for _, svgp := range s.SVGPaths {
		m := s.Transform.Mult(svgp.Style.transform)
		st := svgp.Style
		if svgp.Image != nil {
			if ic, ok := c.(ImageCanvas); ok {
				ic.Image(*svgp.Image, m, st.FillOpacity*opacity)
			}
			continue
		}
		if st.FillerColor == nil && st.LinerColor == nil {
			continue
		}
		path := svgp.Path.Transform(m)
		if st.FillerColor != nil {
			c.Fill(path, st.UseNonZeroWinding, st.FillerColor, st.FillOpacity*opacity)
		}
		if st.LinerColor != nil {
			c.Stroke(path, st.Stroke.resolved(m), st.LinerColor, st.LineOpacity*opacity)
		}
	}
}
