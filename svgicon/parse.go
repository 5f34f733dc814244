package svgicon

import (
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/benoitkugler/okrender/svgpath"
)

var (
	errParamMismatch = errors.New("param mismatch")
	errZeroLengthID  = errors.New("zero length id")
	errUnknownTag    = errors.New("cannot process svg element")
)

// iconCursor is used while parsing SVG files
type iconCursor struct {
	icon       *SvgIcon
	styleStack []PathStyle
	grad       *Gradient
	currentDef []definition

	path   svgpath.Path // path of the current element
	points []float64

	curX, curY float64 // offset of the current use element

	errorMode ErrorMode
	inGrad    bool
	inDefs    bool
	text      *[]string // Titles or Descriptions, inside a text element
}

// definition is used to store what's given in a def tag
type definition struct {
	ID, Tag string
	Attrs   []xml.Attr
}

// handleError reports err according to the error mode:
// only the strict mode aborts the parsing.
func (c *iconCursor) handleError(err error) error {
	switch c.errorMode {
	case StrictErrorMode:
		return err
	case WarnErrorMode:
		logger.Warn("svg parsing", "err", err)
	}
	return nil
}

func (c *iconCursor) getPoints(v string) (err error) {
	c.points, err = svgpath.ParseFloats(v)
	return err
}

// parseFloat reads a number, ignoring a trailing "px" unit.
func parseFloat(v string) (float64, error) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	return strconv.ParseFloat(v, 64)
}

func readFraction(v string) (f float64, err error) {
	v = strings.TrimSpace(v)
	d := 1.0
	if strings.HasSuffix(v, "%") {
		d = 100
		v = strings.TrimSuffix(v, "%")
	}
	f, err = parseFloat(v)
	f /= d
	return
}

// splitOnCommaOrSpace returns a list of strings after splitting the input on comma and space delimiters
func splitOnCommaOrSpace(s string) []string {
	return strings.FieldsFunc(s,
		func(r rune) bool {
			return r == ',' || r == ' '
		})
}

func readTransformAttr(m1 svgpath.Matrix2D, k string, points []float64) (svgpath.Matrix2D, error) {
	ln := len(points)
	switch k {
	case "rotate":
		if ln == 1 {
			m1 = m1.Rotate(points[0] * math.Pi / 180)
		} else if ln == 3 {
			m1 = m1.Translate(points[1], points[2]).
				Rotate(points[0]*math.Pi/180).
				Translate(-points[1], -points[2])
		} else {
			return m1, errParamMismatch
		}
	case "translate":
		if ln == 1 {
			m1 = m1.Translate(points[0], 0)
		} else if ln == 2 {
			m1 = m1.Translate(points[0], points[1])
		} else {
			return m1, errParamMismatch
		}
	case "skewx":
		if ln != 1 {
			return m1, errParamMismatch
		}
		m1 = m1.SkewX(points[0] * math.Pi / 180)
	case "skewy":
		if ln != 1 {
			return m1, errParamMismatch
		}
		m1 = m1.SkewY(points[0] * math.Pi / 180)
	case "scale":
		if ln == 1 {
			m1 = m1.Scale(points[0], points[0])
		} else if ln == 2 {
			m1 = m1.Scale(points[0], points[1])
		} else {
			return m1, errParamMismatch
		}
	case "matrix":
		if ln != 6 {
			return m1, errParamMismatch
		}
		m1 = m1.Mult(svgpath.Matrix2D{
			A: points[0],
			B: points[1],
			C: points[2],
			D: points[3],
			E: points[4],
			F: points[5]})
	default:
		return m1, fmt.Errorf("%w: unknown transform %q", errParamMismatch, k)
	}
	return m1, nil
}

// parseTransform applies the transform list `v` after `m1`.
func parseTransform(m1 svgpath.Matrix2D, v string) (svgpath.Matrix2D, error) {
	for _, t := range strings.Split(v, ")") {
		t = strings.TrimSpace(strings.TrimLeft(t, ", "))
		if len(t) == 0 {
			continue
		}
		d := strings.Split(t, "(")
		if len(d) != 2 || len(d[1]) < 1 {
			return m1, errParamMismatch // badly formed transformation
		}
		points, err := svgpath.ParseFloats(d[1])
		if err != nil {
			return m1, err
		}
		m1, err = readTransformAttr(m1, strings.ToLower(strings.TrimSpace(d[0])), points)
		if err != nil {
			return m1, err
		}
	}
	return m1, nil
}

func (c *iconCursor) readStyleAttr(curStyle *PathStyle, k, v string) error {
	switch k {
	case "fill":
		p, err := c.readPaint(v, curStyle.FillerColor)
		if err != nil {
			return err
		}
		curStyle.FillerColor = p
	case "stroke":
		p, err := c.readPaint(v, curStyle.LinerColor)
		if err != nil {
			return err
		}
		curStyle.LinerColor = p
	case "fill-rule":
		curStyle.UseNonZeroWinding = v != "evenodd"
	case "stroke-linegap":
		if g, ok := lookupKeyword[GapMode](gapKeywords[:], v); ok {
			curStyle.Stroke.Gap = g
		}
	case "stroke-leadlinecap":
		if cp, ok := lookupKeyword[CapMode](capKeywords[:], v); ok {
			curStyle.Stroke.LeadCap = cp
		}
	case "stroke-linecap":
		if cp, ok := lookupKeyword[CapMode](capKeywords[:], v); ok {
			curStyle.Stroke.TrailCap = cp
		}
	case "stroke-linejoin":
		if j, ok := lookupKeyword[JoinMode](joinKeywords[:], v); ok {
			curStyle.Stroke.Join = j
		}
	case "stroke-miterlimit":
		mLimit, err := parseFloat(v)
		if err != nil {
			return err
		}
		curStyle.Stroke.MiterLimit = mLimit
	case "stroke-width":
		width, err := parseFloat(v)
		if err != nil {
			return err
		}
		curStyle.Stroke.Width = width
	case "stroke-dashoffset":
		dashOffset, err := parseFloat(v)
		if err != nil {
			return err
		}
		curStyle.Stroke.DashOffset = dashOffset
	case "stroke-dasharray":
		if v == "none" {
			curStyle.Stroke.Dash = nil
			break
		}
		dashes := splitOnCommaOrSpace(v)
		dList := make([]float64, len(dashes))
		for i, dstr := range dashes {
			d, err := parseFloat(dstr)
			if err != nil {
				return err
			}
			dList[i] = d
		}
		curStyle.Stroke.Dash = dList
	case "opacity", "stroke-opacity", "fill-opacity":
		op, err := parseFloat(v)
		if err != nil {
			return err
		}
		if k != "stroke-opacity" {
			curStyle.FillOpacity *= op
		}
		if k != "fill-opacity" {
			curStyle.LineOpacity *= op
		}
	case "transform":
		m, err := parseTransform(curStyle.transform, v)
		if err != nil {
			return err
		}
		curStyle.transform = m
	}
	return nil
}

// pushStyle parses the style element, and push it on the style stack. Only color and opacity are supported
// for fill. Note that this parses both the contents of a style attribute plus
// direct fill and opacity attributes.
func (c *iconCursor) pushStyle(attrs []xml.Attr) error {
	var pairs []string
	for _, attr := range attrs {
		switch strings.ToLower(attr.Name.Local) {
		case "style":
			pairs = append(pairs, strings.Split(attr.Value, ";")...)
		default:
			pairs = append(pairs, attr.Name.Local+":"+attr.Value)
		}
	}
	// Make a copy of the top style
	curStyle := c.styleStack[len(c.styleStack)-1]
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if err := c.readStyleAttr(&curStyle, k, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s attribute: %w", k, err)
		}
	}
	c.styleStack = append(c.styleStack, curStyle) // Push style onto stack
	return nil
}

func (c *iconCursor) popStyle() {
	if len(c.styleStack) > 1 {
		c.styleStack = c.styleStack[:len(c.styleStack)-1]
	}
}

// flushDef saves the definition being collected, if any.
func (c *iconCursor) flushDef() {
	if len(c.currentDef) > 0 {
		c.icon.defs[c.currentDef[0].ID] = c.currentDef
		c.currentDef = nil
	}
}

// flushPath binds the path parsed by the last element to the current style.
func (c *iconCursor) flushPath() {
	if len(c.path) == 0 {
		return
	}
	pathCopy := append(svgpath.Path{}, c.path...)
	c.icon.SVGPaths = append(c.icon.SVGPaths,
		SvgPath{Path: pathCopy, Style: c.styleStack[len(c.styleStack)-1]})
	c.path.Clear()
}

func (c *iconCursor) readStartElement(se xml.StartElement) (err error) {
	skipDef := se.Name.Local == "radialGradient" || se.Name.Local == "linearGradient" || c.inGrad
	if c.inDefs && !skipDef {
		ID := ""
		for _, attr := range se.Attr {
			if attr.Name.Local == "id" {
				ID = attr.Value
			}
		}
		if ID != "" {
			c.flushDef()
		}
		c.currentDef = append(c.currentDef, definition{
			ID:    ID,
			Tag:   se.Name.Local,
			Attrs: se.Attr,
		})
		return nil
	}
	df, ok := drawFuncs[se.Name.Local]
	if !ok {
		return c.handleError(fmt.Errorf("%w: %s", errUnknownTag, se.Name.Local))
	}
	if err = df(c, se.Attr); err != nil {
		return fmt.Errorf("invalid <%s>: %w", se.Name.Local, err)
	}
	c.flushPath()
	return nil
}
