package markdown

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/benoitkugler/okrender/style"
)

// TextStyle is the resolved style of a run of characters.
type TextStyle struct {
	FontSize    float64
	FontFamily  string
	Bold        bool
	Italic      bool
	Color       color.NRGBA
	Background  color.NRGBA // zero for none
	Underline   bool
	LineThrough bool
	LineHeight  float64
}

// Monospace returns true for code fonts, measured with a fixed advance
// when no font file is loaded.
func (ts TextStyle) Monospace() bool {
	return ts.FontFamily == "monospace" || strings.Contains(strings.ToLower(ts.FontFamily), "mono")
}

var headingScale = [...]float64{2, 1.5, 1.25, 1, 0.875, 0.85}

// defaultElementStyle returns the style an element has when the host
// does not configure it.
func defaultElementStyle(element string, base TextStyle) TextStyle {
	out := base
	switch element {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		out.FontSize = base.FontSize * headingScale[element[1]-'1']
		out.LineHeight = 0
		out.Bold = true
	case "link":
		out.Color = color.NRGBA{R: 0x1a, G: 0x73, B: 0xe8, A: 0xff}
	case "inlineCode", "codeBlock":
		out.FontFamily = "monospace"
		out.Background = color.NRGBA{R: 0xf2, G: 0xf2, B: 0xf2, A: 0xff}
	case "quote":
		out.Color = color.NRGBA{R: 0x66, G: 0x66, B: 0x66, A: 0xff}
	}
	return out
}

var baseTextStyle = TextStyle{
	FontSize: 16,
	Color:    color.NRGBA{A: 0xff},
}

// styleResolver computes text styles from the view style descriptor,
// caching the element styles which do not depend on range patches.
type styleResolver struct {
	desc     style.Descriptor
	elements map[string]TextStyle
}

func newStyleResolver(desc style.Descriptor) *styleResolver {
	return &styleResolver{desc: desc, elements: map[string]TextStyle{}}
}

// element returns the style of an element, applied over normalText.
func (sr *styleResolver) element(name string) TextStyle {
	if ts, ok := sr.elements[name]; ok {
		return ts
	}
	normal := applyRunStyle(baseTextStyle, sr.desc.Sub("normalText"))
	ts := normal
	if name != "normalText" {
		ts = applyRunStyle(defaultElementStyle(name, normal), sr.desc.Sub(name))
	}
	sr.elements[name] = ts
	return ts
}

// span returns the style of the characters of sp in a block of the given
// element, before range patches.
func (sr *styleResolver) span(blockElement string, sp Span) TextStyle {
	ts := sr.element(blockElement)
	if sp.Element != "" && sp.Element != blockElement && sp.Element != "normalText" {
		elem := sr.element(sp.Element)
		// inline elements keep the block size
		elem.FontSize, elem.LineHeight = ts.FontSize, ts.LineHeight
		if sr.desc.Sub(sp.Element).Float("fontSize", 0) > 0 {
			elem.FontSize = sr.desc.Sub(sp.Element).Float("fontSize", 0)
		}
		elem.Bold = elem.Bold || ts.Bold
		ts = elem
	}
	ts.Bold = ts.Bold || sp.Bold
	ts.Italic = ts.Italic || sp.Italic
	ts.LineThrough = ts.LineThrough || sp.Strike
	return ts
}

// textOverflow returns the top level textOverflow mode: clip or ellipsis.
func (sr *styleResolver) textOverflow() string {
	if sr.desc.String("textOverflow", "") == "ellipsis" {
		return "ellipsis"
	}
	return "clip"
}

// applyRunStyle overrides ts with the run keys present in d.
func applyRunStyle(ts TextStyle, d style.Descriptor) TextStyle {
	if len(d) == 0 {
		return ts
	}
	if v := d.Float("fontSize", 0); v > 0 {
		ts.FontSize = v
	}
	if v := d.String("fontFamily", ""); v != "" {
		ts.FontFamily = v
	}
	if _, ok := d["fontWeight"]; ok {
		ts.Bold = isBold(d)
	}
	if v := d.String("fontStyle", ""); v != "" {
		ts.Italic = v == "italic" || v == "oblique"
	}
	if c, ok := d.Color("color"); ok {
		ts.Color = c
	}
	if c, ok := d.Color("backgroundColor"); ok {
		ts.Background = c
	}
	if v, ok := d["textDecoration"].(string); ok {
		ts.Underline = strings.Contains(v, "underline")
		ts.LineThrough = strings.Contains(v, "line-through")
	}
	if v := d.Float("lineHeight", 0); v > 0 {
		ts.LineHeight = v
	}
	return ts
}

func isBold(d style.Descriptor) bool {
	switch v := d["fontWeight"].(type) {
	case string:
		if w, err := strconv.Atoi(v); err == nil {
			return w >= 600
		}
		return v == "bold" || v == "bolder"
	case bool:
		return v
	}
	return d.Float("fontWeight", 400) >= 600
}

// lineHeight returns the height of a line made of ts characters.
func (ts TextStyle) lineHeight() float64 {
	if ts.LineHeight > 0 {
		return ts.LineHeight
	}
	return ts.FontSize * 1.2
}
