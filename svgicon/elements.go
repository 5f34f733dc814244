package svgicon

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/benoitkugler/okrender/svgpath"
	"golang.org/x/image/math/fixed"
)

func init() {
	// avoids cyclical static declaration
	// called on package initialization
	drawFuncs["use"] = useF
}

type svgFunc func(c *iconCursor, attrs []xml.Attr) error

var drawFuncs = map[string]svgFunc{
	"svg":            svgF,
	"g":              gF,
	"line":           lineF,
	"stop":           stopF,
	"rect":           rectF,
	"circle":         circleF,
	"ellipse":        circleF, // circleF handles ellipse also
	"polyline":       polylineF,
	"polygon":        polygonF,
	"path":           pathF,
	"image":          imageF,
	"desc":           descF,
	"defs":           defsF,
	"title":          titleF,
	"linearGradient": linearGradientF,
	"radialGradient": radialGradientF,
}

func (c *iconCursor) point(x, y float64) fixed.Point26_6 {
	return fixed.Point26_6{
		X: fToFixed(x + c.curX),
		Y: fToFixed(y + c.curY),
	}
}

func svgF(c *iconCursor, attrs []xml.Attr) error {
	c.icon.ViewBox = Bounds{}
	var width, height float64
	var err error
	for _, attr := range attrs {
		switch attr.Name.Local {
		case "viewBox":
			err = c.getPoints(attr.Value)
			if len(c.points) != 4 {
				return errParamMismatch
			}
			c.icon.ViewBox = Bounds{X: c.points[0], Y: c.points[1], W: c.points[2], H: c.points[3]}
		case "width":
			c.icon.Width = attr.Value
			if !strings.HasSuffix(attr.Value, "%") {
				width, err = parseFloat(attr.Value)
			}
		case "height":
			c.icon.Height = attr.Value
			if !strings.HasSuffix(attr.Value, "%") {
				height, err = parseFloat(attr.Value)
			}
		}
		if err != nil {
			return err
		}
	}
	if c.icon.ViewBox.W == 0 {
		c.icon.ViewBox.W = width
	}
	if c.icon.ViewBox.H == 0 {
		c.icon.ViewBox.H = height
	}
	return nil
}

func gF(*iconCursor, []xml.Attr) error { return nil } // g does nothing but push the style

// readFloats parses the attributes named in dst. Missing attributes
// leave their destination untouched.
func readFloats(attrs []xml.Attr, dst map[string]*float64) error {
	for _, attr := range attrs {
		v, ok := dst[attr.Name.Local]
		if !ok {
			continue
		}
		f, err := parseFloat(attr.Value)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", attr.Name.Local, err)
		}
		*v = f
	}
	return nil
}

func rectF(c *iconCursor, attrs []xml.Attr) error {
	var x, y, w, h, rx, ry float64
	err := readFloats(attrs, map[string]*float64{
		"x": &x, "y": &y, "width": &w, "height": &h, "rx": &rx, "ry": &ry,
	})
	if err != nil || w == 0 || h == 0 {
		return err
	}
	x, y = x+c.curX, y+c.curY
	c.path.AddRoundRect(x, y, x+w, y+h, rx, ry)
	return nil
}

// circleF draws circles and ellipses; rx and ry take precedence over r.
func circleF(c *iconCursor, attrs []xml.Attr) error {
	var cx, cy, r float64
	rx, ry := -1.0, -1.0
	err := readFloats(attrs, map[string]*float64{
		"cx": &cx, "cy": &cy, "r": &r, "rx": &rx, "ry": &ry,
	})
	if err != nil {
		return err
	}
	if rx < 0 {
		rx = r
	}
	if ry < 0 {
		ry = r
	}
	if rx <= 0 || ry <= 0 { // not drawn, but not an error
		return nil
	}
	c.path.AddEllipse(cx+c.curX, cy+c.curY, rx, ry)
	return nil
}

func lineF(c *iconCursor, attrs []xml.Attr) error {
	var x1, y1, x2, y2 float64
	err := readFloats(attrs, map[string]*float64{"x1": &x1, "y1": &y1, "x2": &x2, "y2": &y2})
	if err != nil {
		return err
	}
	c.path.Start(c.point(x1, y1))
	c.path.Line(c.point(x2, y2))
	return nil
}

func polylineF(c *iconCursor, attrs []xml.Attr) error {
	c.points = c.points[:0]
	for _, attr := range attrs {
		if attr.Name.Local != "points" {
			continue
		}
		if err := c.getPoints(attr.Value); err != nil {
			return err
		}
		if len(c.points)%2 != 0 {
			return errors.New("polygon has odd number of points")
		}
	}
	if len(c.points) >= 4 {
		c.path.Start(c.point(c.points[0], c.points[1]))
		for i := 2; i < len(c.points)-1; i += 2 {
			c.path.Line(c.point(c.points[i], c.points[i+1]))
		}
	}
	return nil
}

func polygonF(c *iconCursor, attrs []xml.Attr) error {
	err := polylineF(c, attrs)
	if len(c.points) >= 4 {
		c.path.Stop(true)
	}
	return err
}

func pathF(c *iconCursor, attrs []xml.Attr) error {
	for _, attr := range attrs {
		if attr.Name.Local != "d" {
			continue
		}
		p, err := svgpath.ParsePath(attr.Value)
		if err != nil {
			return err
		}
		if c.curX != 0 || c.curY != 0 {
			p = p.Transform(svgpath.Identity.Translate(c.curX, c.curY))
		}
		c.path = append(c.path, p...)
	}
	return nil
}

func imageF(c *iconCursor, attrs []xml.Attr) error {
	var img ImageRef
	err := readFloats(attrs, map[string]*float64{"x": &img.X, "y": &img.Y, "width": &img.W, "height": &img.H})
	if err != nil {
		return err
	}
	for _, attr := range attrs {
		switch attr.Name.Local {
		case "href":
			img.Href = strings.TrimSpace(attr.Value)
		case "preserveAspectRatio":
			img.Stretch = strings.TrimSpace(attr.Value) == "none"
		}
	}
	if img.Href == "" || img.W <= 0 || img.H <= 0 { // not rendered
		return nil
	}
	img.X, img.Y = img.X+c.curX, img.Y+c.curY
	var frame svgpath.Path
	frame.AddRect(img.X, img.Y, img.X+img.W, img.Y+img.H)
	c.icon.SVGPaths = append(c.icon.SVGPaths, SvgPath{Path: frame, Style: c.styleStack[len(c.styleStack)-1], Image: &img})
	return nil
}

func descF(c *iconCursor, attrs []xml.Attr) error {
	c.icon.Descriptions = append(c.icon.Descriptions, "")
	c.text = &c.icon.Descriptions
	return nil
}

func titleF(c *iconCursor, attrs []xml.Attr) error {
	c.icon.Titles = append(c.icon.Titles, "")
	c.text = &c.icon.Titles
	return nil
}

func defsF(c *iconCursor, attrs []xml.Attr) error {
	c.inDefs = true
	return nil
}

func (c *iconCursor) readGradAttr(attr xml.Attr) (err error) {
	switch attr.Name.Local {
	case "gradientTransform":
		c.grad.Matrix, err = parseTransform(svgpath.Identity, attr.Value)
	case "gradientUnits":
		switch strings.TrimSpace(attr.Value) {
		case "userSpaceOnUse":
			c.grad.Units = UserSpaceOnUse
		case "objectBoundingBox":
			c.grad.Units = ObjectBoundingBox
		}
	case "spreadMethod":
		switch strings.TrimSpace(attr.Value) {
		case "pad":
			c.grad.Spread = PadSpread
		case "reflect":
			c.grad.Spread = ReflectSpread
		case "repeat":
			c.grad.Spread = RepeatSpread
		}
	}
	return err
}

// registerGrad stores the gradient under construction.
func (c *iconCursor) registerGrad(id string) error {
	if len(id) == 0 {
		return errZeroLengthID
	}
	c.icon.grads[id] = c.grad
	return nil
}

func linearGradientF(c *iconCursor, attrs []xml.Attr) error {
	var err error
	c.inGrad = true
	direction := Linear{0, 0, 1, 0}
	c.grad = &Gradient{Bounds: c.icon.ViewBox, Matrix: svgpath.Identity}
	for _, attr := range attrs {
		switch attr.Name.Local {
		case "id":
			err = c.registerGrad(attr.Value)
		case "x1":
			direction[0], err = readFraction(attr.Value)
		case "y1":
			direction[1], err = readFraction(attr.Value)
		case "x2":
			direction[2], err = readFraction(attr.Value)
		case "y2":
			direction[3], err = readFraction(attr.Value)
		default:
			err = c.readGradAttr(attr)
		}
		if err != nil {
			return err
		}
	}
	c.grad.Direction = direction
	return nil
}

func radialGradientF(c *iconCursor, attrs []xml.Attr) error {
	c.inGrad = true
	direction := Radial{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	c.grad = &Gradient{Bounds: c.icon.ViewBox, Matrix: svgpath.Identity}
	var setFx, setFy bool
	var err error
	for _, attr := range attrs {
		switch attr.Name.Local {
		case "id":
			err = c.registerGrad(attr.Value)
		case "cx":
			direction[0], err = readFraction(attr.Value)
		case "cy":
			direction[1], err = readFraction(attr.Value)
		case "fx":
			setFx = true
			direction[2], err = readFraction(attr.Value)
		case "fy":
			setFy = true
			direction[3], err = readFraction(attr.Value)
		case "r":
			direction[4], err = readFraction(attr.Value)
		case "fr":
			direction[5], err = readFraction(attr.Value)
		default:
			err = c.readGradAttr(attr)
		}
		if err != nil {
			return err
		}
	}
	if !setFx { // set fx to cx by default
		direction[2] = direction[0]
	}
	if !setFy { // set fy to cy by default
		direction[3] = direction[1]
	}
	c.grad.Direction = direction
	return nil
}

func stopF(c *iconCursor, attrs []xml.Attr) error {
	if !c.inGrad {
		return nil
	}
	var err error
	stop := GradStop{Opacity: 1.0, StopColor: DefaultStyle.FillerColor.(PlainColor)}
	for _, attr := range attrs {
		switch attr.Name.Local {
		case "offset":
			stop.Offset, err = readFraction(attr.Value)
		case "stop-color":
			var p Pattern
			p, err = parseSVGColor(attr.Value, nil)
			if pc, ok := p.(PlainColor); ok {
				stop.StopColor = pc
			}
		case "stop-opacity":
			stop.Opacity, err = parseFloat(attr.Value)
		}
		if err != nil {
			return err
		}
	}
	c.grad.Stops = append(c.grad.Stops, stop)
	return nil
}

func useF(c *iconCursor, attrs []xml.Attr) error {
	var x, y float64
	if err := readFloats(attrs, map[string]*float64{"x": &x, "y": &y}); err != nil {
		return err
	}
	var href string
	for _, attr := range attrs {
		if attr.Name.Local == "href" {
			href = attr.Value
		}
	}
	if href == "" {
		return errors.New("only use tags with href is supported")
	}
	if !strings.HasPrefix(href, "#") {
		return errors.New("only the ID CSS selector is supported")
	}
	defs, ok := c.icon.defs[href[1:]]
	if !ok {
		return errors.New("href ID in use statement was not found in saved defs")
	}
	c.curX, c.curY = x, y
	defer func() { c.curX, c.curY = 0, 0 }()

	depth := len(c.styleStack)
	defer func() { c.styleStack = c.styleStack[:depth] }()
	for _, def := range defs {
		if def.Tag == "endg" {
			c.popStyle()
			continue
		}
		if err := c.pushStyle(def.Attrs); err != nil {
			return err
		}
		df, ok := drawFuncs[def.Tag]
		if !ok || def.Tag == "use" {
			c.popStyle()
			if err := c.handleError(fmt.Errorf("%w: %s", errUnknownTag, def.Tag)); err != nil {
				return err
			}
			continue
		}
		if err := df(c, def.Attrs); err != nil {
			return err
		}
		c.flushPath()
		if def.Tag != "g" {
			c.popStyle()
		}
	}
	return nil
}
