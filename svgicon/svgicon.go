// Package svgicon parses SVG documents into a list of styled paths,
// painted on any [Canvas]; see svgraster for the raster one.
package svgicon

import (
	"encoding/xml"
	"errors"
	"io"

	"github.com/benoitkugler/okrender/logging"
	"github.com/benoitkugler/okrender/svgpath"
	"golang.org/x/image/math/fixed"
	"golang.org/x/net/html/charset"
)

var logger = logging.For("svg")

// ErrInvalidIcon is returned for documents without any element.
var ErrInvalidIcon = errors.New("invalid svg xml icon")

// ErrorMode is the reaction of the parser to unsupported elements
// and unresolved references.
type ErrorMode uint8

const (
	IgnoreErrorMode ErrorMode = iota // skip
	WarnErrorMode                    // skip and log at warn level
	StrictErrorMode                  // fail
)

// PathStyle is the resolved style of an element.
type PathStyle struct {
	FillOpacity, LineOpacity float64
	UseNonZeroWinding        bool

	Stroke                  Stroke
	FillerColor, LinerColor Pattern // either PlainColor or Gradient

	transform svgpath.Matrix2D // current transform
}

// SvgPath is a path with its style, in user space.
type SvgPath struct {
	Path  svgpath.Path
	Style PathStyle
	// Image is set for image elements, whose Path is the frame.
	Image *ImageRef
}

// ImageRef is an image element. Its content is resolved by the host
// from Href.
type ImageRef struct {
	Href       string
	X, Y, W, H float64
	Stretch    bool // preserveAspectRatio="none", otherwise centered and fitted
}

// Images returns the image elements, in document order.
func (s *SvgIcon) Images() []ImageRef {
	var out []ImageRef
	for _, svgp := range s.SVGPaths {
		if svgp.Image != nil {
			out = append(out, *svgp.Image)
		}
	}
	return out
}

// Bounds defines a bounding box, such as a viewport
// or a path extent.
type Bounds struct{ X, Y, W, H float64 }

// SvgIcon is a parsed SVG document.
type SvgIcon struct {
	ViewBox      Bounds
	Titles       []string // Title elements collect here
	Descriptions []string // Description elements collect here
	SVGPaths     []SvgPath
	Transform    svgpath.Matrix2D

	Width, Height string // top level width and height attributes

	grads map[string]*Gradient
	defs  map[string][]definition
}

// ReadIconStream parses the SVG document of stream. Only a subset of
// SVG is supported; errMode decides whether unsupported elements are
// skipped silently, logged, or rejected.
func ReadIconStream(stream io.Reader, errMode ErrorMode) (*SvgIcon, error) {
	icon := &SvgIcon{defs: make(map[string][]definition), grads: make(map[string]*Gradient), Transform: svgpath.Identity}
	c := &iconCursor{styleStack: []PathStyle{DefaultStyle}, icon: icon, errorMode: errMode}
	decoder := xml.NewDecoder(stream)
	decoder.CharsetReader = charset.NewReaderLabel
	for seen := false; ; {
		t, err := decoder.Token()
		if err == io.EOF {
			if !seen {
				return nil, ErrInvalidIcon
			}
			return icon, nil
		}
		if err != nil {
			return icon, err
		}
		switch t := t.(type) {
		case xml.StartElement:
			seen = true
			if err = c.pushStyle(t.Attr); err != nil {
				return icon, err
			}
			if err = c.readStartElement(t); err != nil {
				return icon, err
			}
		case xml.EndElement:
			c.readEndElement(t.Name.Local)
		case xml.CharData:
			if c.text != nil {
				(*c.text)[len(*c.text)-1] += string(t)
			}
		}
	}
}

// readEndElement pops the style of the element and leaves its context.
func (c *iconCursor) readEndElement(name string) {
	c.popStyle()
	switch name {
	case "g":
		if c.inDefs {
			c.currentDef = append(c.currentDef, definition{Tag: "endg"})
		}
	case "title", "desc":
		c.text = nil
	case "defs":
		c.flushDef()
		c.inDefs = false
	case "radialGradient", "linearGradient":
		c.inGrad = false
	}
}

// SetTarget sets the Transform matrix to draw within the bounds of the rectangle arguments
func (s *SvgIcon) SetTarget(x, y, w, h float64) {
	scaleW, scaleH := 1., 1.
	if s.ViewBox.W > 0 {
		scaleW = w / s.ViewBox.W
	}
	if s.ViewBox.H > 0 {
		scaleH = h / s.ViewBox.H
	}
	s.Transform = svgpath.Identity.Translate(x, y).Scale(scaleW, scaleH).Translate(-s.ViewBox.X, -s.ViewBox.Y)
}

// Extent returns the exact bounding box of the paths, in user space
// (before the Transform of the icon).
func (s *SvgIcon) Extent() Bounds {
	var out fixed.Rectangle26_6
	for _, svgp := range s.SVGPaths {
		r := svgp.Path.Extent(svgp.Style.transform)
		if r == (fixed.Rectangle26_6{}) {
			continue
		}
		if out == (fixed.Rectangle26_6{}) {
			out = r
		} else {
			out = out.Union(r)
		}
	}
	minX, minY := float64(out.Min.X)/64, float64(out.Min.Y)/64
	return Bounds{X: minX, Y: minY, W: float64(out.Max.X)/64 - minX, H: float64(out.Max.Y)/64 - minY}
}
