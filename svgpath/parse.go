package svgpath

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	errParamMismatch  = errors.New("svgpath: param mismatch")
	errCommandUnknown = errors.New("svgpath: unknown command")
)

// ParseFloats reads a list of numbers separated by spaces and/or commas.
// As in SVG, separators may be omitted when not ambiguous,
// like in "1-2" or "0.5.5".
func ParseFloats(s string) ([]float64, error) {
	var out []float64
	i := 0
	for i < len(s) {
		c := s[i]
		if c == ',' || isSpace(c) {
			i++
			continue
		}
		end := scanNumber(s, i)
		if end == i {
			return out, fmt.Errorf("svgpath: invalid number at %q", s[i:])
		}
		f, err := strconv.ParseFloat(s[i:end], 64)
		if err != nil {
			return out, fmt.Errorf("svgpath: invalid number %q", s[i:end])
		}
		out = append(out, f)
		i = end
	}
	return out, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// scanNumber returns the end of the number starting at s[i].
func scanNumber(s string, i int) int {
	j := i
	if j < len(s) && (s[j] == '+' || s[j] == '-') {
		j++
	}
	digits, dot := false, false
mantissa:
	for ; j < len(s); j++ {
		switch c := s[j]; {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.' && !dot:
			dot = true
		default:
			break mantissa
		}
	}
	if !digits {
		return i
	}
	if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
		k := j + 1
		if k < len(s) && (s[k] == '+' || s[k] == '-') {
			k++
		}
		if k < len(s) && s[k] >= '0' && s[k] <= '9' {
			for k < len(s) && s[k] >= '0' && s[k] <= '9' {
				k++
			}
			j = k
		}
	}
	return j
}

// pathCursor is used to compile SVG path data
type pathCursor struct {
	path             Path
	placeX, placeY   float64
	startX, startY   float64
	cntlPtX, cntlPtY float64
	lastKey          byte
	inPath           bool
	points           []float64
}

// ParsePath compiles the SVG path data `d` (the content of the "d" attribute).
func ParsePath(d string) (Path, error) {
	var c pathCursor
	err := c.compile(d)
	return c.path, err
}

func isCommand(r rune) bool {
	return strings.ContainsRune("MmLlHhVvCcSsQqTtAaZz", r)
}

func (c *pathCursor) compile(d string) error {
	cmd, argStart := byte(0), 0
	for i, r := range d {
		if !isCommand(r) {
			if cmd == 0 && !unicode.IsSpace(r) {
				return fmt.Errorf("%w: path data must start with a command, got %q", errCommandUnknown, r)
			}
			continue
		}
		if cmd != 0 {
			if err := c.run(cmd, d[argStart:i]); err != nil {
				return err
			}
		}
		cmd, argStart = byte(r), i+1
	}
	if cmd != 0 {
		return c.run(cmd, d[argStart:])
	}
	return nil
}

func (c *pathCursor) run(cmd byte, args string) error {
	var err error
	c.points, err = ParseFloats(args)
	if err != nil {
		return err
	}
	err = c.addSeg(cmd)
	c.lastKey = cmd
	return err
}

// reflect returns the control point mirrored around the current point
// if the previous command was one of `keys`, or the current point otherwise.
func (c *pathCursor) reflect(keys string) (x, y float64) {
	if strings.IndexByte(keys, c.lastKey) >= 0 {
		return 2*c.placeX - c.cntlPtX, 2*c.placeY - c.cntlPtY
	}
	return c.placeX, c.placeY
}

func (c *pathCursor) addSeg(cmd byte) error {
	l := len(c.points)
	rel := unicode.IsLower(rune(cmd))
	abs := func(i int) (x, y float64) {
		x, y = c.points[i], c.points[i+1]
		if rel {
			x, y = x+c.placeX, y+c.placeY
		}
		return
	}
	switch unicode.ToUpper(rune(cmd)) {
	case 'Z':
		if l != 0 {
			return errParamMismatch
		}
		if c.inPath {
			c.path.Stop(true)
			c.placeX, c.placeY = c.startX, c.startY
			c.inPath = false
		}
	case 'M':
		if l == 0 || l%2 != 0 {
			return errParamMismatch
		}
		x, y := abs(0)
		c.placeX, c.placeY = x, y
		c.startX, c.startY = x, y
		c.path.Start(toFixedP(x, y))
		c.inPath = true
		for i := 2; i < l; i += 2 { // implicit line to
			x, y = abs(i)
			c.path.Line(toFixedP(x, y))
			c.placeX, c.placeY = x, y
		}
	case 'L':
		if l == 0 || l%2 != 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for i := 0; i < l; i += 2 {
			x, y := abs(i)
			c.path.Line(toFixedP(x, y))
			c.placeX, c.placeY = x, y
		}
	case 'H':
		if l == 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for _, x := range c.points {
			if rel {
				x += c.placeX
			}
			c.path.Line(toFixedP(x, c.placeY))
			c.placeX = x
		}
	case 'V':
		if l == 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for _, y := range c.points {
			if rel {
				y += c.placeY
			}
			c.path.Line(toFixedP(c.placeX, y))
			c.placeY = y
		}
	case 'C':
		if l == 0 || l%6 != 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for i := 0; i < l; i += 6 {
			x1, y1 := abs(i)
			x2, y2 := abs(i + 2)
			x, y := abs(i + 4)
			c.path.CubeBezier(toFixedP(x1, y1), toFixedP(x2, y2), toFixedP(x, y))
			c.cntlPtX, c.cntlPtY = x2, y2
			c.placeX, c.placeY = x, y
		}
	case 'S':
		if l == 0 || l%4 != 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for i := 0; i < l; i += 4 {
			x1, y1 := c.reflect("CcSs")
			x2, y2 := abs(i)
			x, y := abs(i + 2)
			c.path.CubeBezier(toFixedP(x1, y1), toFixedP(x2, y2), toFixedP(x, y))
			c.cntlPtX, c.cntlPtY = x2, y2
			c.placeX, c.placeY = x, y
			c.lastKey = 'S'
		}
	case 'Q':
		if l == 0 || l%4 != 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for i := 0; i < l; i += 4 {
			x1, y1 := abs(i)
			x, y := abs(i + 2)
			c.path.QuadBezier(toFixedP(x1, y1), toFixedP(x, y))
			c.cntlPtX, c.cntlPtY = x1, y1
			c.placeX, c.placeY = x, y
		}
	case 'T':
		if l == 0 || l%2 != 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for i := 0; i < l; i += 2 {
			x1, y1 := c.reflect("QqTt")
			x, y := abs(i)
			c.path.QuadBezier(toFixedP(x1, y1), toFixedP(x, y))
			c.cntlPtX, c.cntlPtY = x1, y1
			c.placeX, c.placeY = x, y
			c.lastKey = 'T'
		}
	case 'A':
		if l == 0 || l%7 != 0 {
			return errParamMismatch
		}
		c.ensureStarted()
		for i := 0; i < l; i += 7 {
			arc := c.points[i : i+7 : i+7]
			if rel {
				arc[5] += c.placeX
				arc[6] += c.placeY
			}
			arc[0], arc[1] = math.Abs(arc[0]), math.Abs(arc[1])
			if arc[0] == 0 || arc[1] == 0 || (arc[5] == c.placeX && arc[6] == c.placeY) {
				c.path.Line(toFixedP(arc[5], arc[6]))
			} else {
				cx, cy := findEllipseCenter(&arc[0], &arc[1], arc[2]*math.Pi/180, c.placeX, c.placeY,
					arc[5], arc[6], arc[4] == 0, arc[3] == 0)
				c.path.addArc(arc, cx, cy, c.placeX, c.placeY)
			}
			c.placeX, c.placeY = arc[5], arc[6]
		}
	default:
		return errCommandUnknown
	}
	return nil
}

// ensureStarted opens a new sub path at the current point, which happens
// for drawing commands following a close.
func (c *pathCursor) ensureStarted() {
	if !c.inPath {
		c.path.Start(toFixedP(c.placeX, c.placeY))
		c.startX, c.startY = c.placeX, c.placeY
		c.inPath = true
	}
}
