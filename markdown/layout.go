package markdown

import (
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/benoitkugler/okrender/style"
	"github.com/go-text/typesetting/font"
	"golang.org/x/text/width"
)

// FragmentKind is the kind of content drawn by a [Fragment].
type FragmentKind uint8

const (
	TextFragment FragmentKind = iota
	MarkerFragment
	ImageFragment
	ViewFragment
	RuleFragment
)

// Rect is a rectangle in points, relative to the top left of the page.
type Rect struct {
	X, Y, W, H float64
}

// Contains returns true if (x, y) is inside r.
func (r Rect) Contains(x, y float64) bool {
	return r.X <= x && x < r.X+r.W && r.Y <= y && y < r.Y+r.H
}

// Fragment is a piece of a line drawn with a single style.
type Fragment struct {
	Kind FragmentKind
	Text string
	// Offset is the source rune offset of the first character, or -1.
	Offset int
	// Char is the index of the first character in reading order,
	// used by the typewriter animation.
	Char  int
	Chars int // number of animated characters

	X, Width float64
	Style    TextStyle
	URL      string // link, image source or inline view id
	View     any
	Height   float64 // of images and views

	advances []float64 // per rune, for text
}

// Line is a laid out line of text.
type Line struct {
	Y, Height, Baseline float64
	Width               float64 // right edge of the last fragment
	Fragments           []Fragment
}

// Page is the display list produced by the layout of a document.
type Page struct {
	Width, Height float64
	Lines         []Line
	Chars         int  // total number of animated characters
	Truncated     bool // lines were dropped by textMaxline or maxHeight
}

// Visible returns the page showing only the first step characters.
// With dynamicHeight, the height of the page follows the last visible line.
func (p *Page) Visible(step int, dynamicHeight bool) *Page {
	if step >= p.Chars {
		return p
	}
	out := &Page{Width: p.Width, Height: p.Height, Chars: p.Chars, Truncated: p.Truncated}
	for _, line := range p.Lines {
		visible := line
		visible.Fragments = nil
		for _, f := range line.Fragments {
			if f.Char >= step {
				break
			}
			if f.Kind == TextFragment && f.Char+f.Chars > step {
				f = f.head(step - f.Char)
			}
			visible.Fragments = append(visible.Fragments, f)
			visible.Width = f.X + f.Width
		}
		if len(visible.Fragments) == 0 {
			break
		}
		out.Lines = append(out.Lines, visible)
	}
	if dynamicHeight {
		out.Height = 0
		if n := len(out.Lines); n != 0 {
			out.Height = out.Lines[n-1].Y + out.Lines[n-1].Height
		}
	}
	return out
}

// head returns the fragment cut after n runes.
func (f Fragment) head(n int) Fragment {
	cut := 0
	for i := 0; i < n && cut < len(f.Text); i++ {
		_, size := utf8.DecodeRuneInString(f.Text[cut:])
		cut += size
	}
	f.Text = f.Text[:cut]
	f.Chars = n
	f.advances = f.advances[:n]
	f.Width = sum(f.advances)
	return f
}

func sum(fs []float64) float64 {
	s := 0.
	for _, f := range fs {
		s += f
	}
	return s
}

// measurer computes glyph advances, from the loaded font files when
// available.
type measurer struct {
	faces map[string]*font.Face // by family, "" is the default face
	// missing is called for families without face
	missing func(family string)
}

func (m *measurer) face(ts TextStyle) *font.Face {
	if f, ok := m.faces[ts.FontFamily]; ok {
		return f
	}
	if ts.FontFamily != "" && m.missing != nil {
		m.missing(ts.FontFamily)
	}
	return m.faces[""]
}

// advance returns the width of r, in points.
func (m *measurer) advance(r rune, ts TextStyle) float64 {
	if face := m.face(ts); face != nil {
		if gid, ok := face.NominalGlyph(r); ok {
			return float64(face.HorizontalAdvance(gid)) * ts.FontSize / float64(face.Upem())
		}
	}
	return fallbackAdvance(r, ts)
}

// fallbackAdvance approximates the advance of r without font file:
// wide East Asian characters are square, others half as wide.
func fallbackAdvance(r rune, ts TextStyle) float64 {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return ts.FontSize
	}
	if ts.Monospace() {
		return ts.FontSize * 0.6
	}
	return ts.FontSize * 0.5
}

// ascent returns the distance from the top of the text to its baseline.
func (m *measurer) ascent(ts TextStyle) float64 {
	if face := m.face(ts); face != nil {
		if ext, ok := face.FontHExtents(); ok {
			return float64(ext.Ascender) * ts.FontSize / float64(face.Upem())
		}
	}
	return ts.FontSize * 0.8
}

// Measurable may be implemented by host views to report their size.
// Other views are laid out as a square placeholder of the font size.
type Measurable interface {
	Measure(maxWidth, maxHeight float64) (w, h float64)
}

type layoutParams struct {
	maxWidth, maxHeight float64 // 0 for unbounded
	maxLines            int     // 0 for unbounded
	ellipsis            bool
}

const unbounded = 1e9

type layouter struct {
	layoutParams
	m      *measurer
	styles *styleResolver
	runs   []style.Run // range styles, by source position
	// imageSize returns the size of the image at src
	imageSize func(src string, ts TextStyle, maxWidth float64) (w, h float64)

	page     *Page
	cur      Line
	x, y     float64
	left     float64 // start of the lines of the current block
	char     int
	keepWS   bool // code blocks keep leading spaces
	lastText TextStyle
	stopped  bool
}

func (l *layouter) right() float64 {
	if l.maxWidth > 0 {
		return l.maxWidth
	}
	return unbounded
}

// layout lays out doc. runs are the range style runs of the source
// (possibly nil).
func (l *layouter) layout(doc *Document) *Page {
	l.page = &Page{}
	normal := l.styles.element("normalText")
	l.lastText = normal
	for i, bl := range doc.Blocks {
		if i != 0 {
			l.newLine()
			l.y += normal.FontSize * 0.5
		}
		if l.stopped {
			break
		}
		l.block(bl)
	}
	if !l.stopped {
		l.commit()
	}
	if n := len(l.page.Lines); n != 0 {
		last := l.page.Lines[n-1]
		l.page.Height = last.Y + last.Height
	}
	for _, line := range l.page.Lines {
		l.page.Width = max(l.page.Width, line.Width)
	}
	l.page.Chars = l.char
	return l.page
}

func (l *layouter) block(bl Block) {
	normal := l.styles.element("normalText")
	l.left = float64(bl.Indent) * normal.FontSize * 1.5
	l.newLine()
	switch bl.Kind {
	case RuleBlock:
		w := 0.
		if l.maxWidth > 0 {
			w = l.maxWidth - l.left
		}
		l.place(Fragment{Kind: RuleFragment, Offset: -1, Width: w, Height: 1, Style: normal, Chars: 1}, false)
		return
	case ViewBlock:
		w, h := viewSize(bl.View, l.right()-l.left, normal)
		l.place(Fragment{Kind: ViewFragment, Offset: -1, URL: bl.Tag, View: bl.View, Width: w, Height: h, Chars: 1, Style: normal}, false)
		return
	}
	l.keepWS = bl.Kind == CodeBlock
	if bl.Marker != "" {
		ts := l.styles.element(bl.Element)
		adv := l.measure(bl.Marker+" ", ts)
		x := max(l.left-sum(adv), 0)
		l.cur.Fragments = append(l.cur.Fragments, Fragment{Kind: MarkerFragment, Text: bl.Marker + " ", Offset: -1,
			Char: l.char, X: x, Width: sum(adv), Style: ts, advances: adv})
	}
	for _, sp := range bl.Spans {
		if l.stopped {
			return
		}
		l.span(bl.Element, sp)
	}
}

func (l *layouter) span(element string, sp Span) {
	ts := l.styles.span(element, sp)
	switch sp.Kind {
	case BreakSpan:
		l.newLine()
	case ImageSpan:
		w, h := l.imageSize(sp.URL, ts, l.right()-l.left)
		l.place(Fragment{Kind: ImageFragment, Offset: -1, URL: sp.URL, Text: sp.Alt, Width: w, Height: h, Style: ts, Chars: 1}, false)
	case InlineViewSpan:
		w, h := viewSize(sp.View, l.right()-l.left, ts)
		if sp.BlockView {
			l.newLine()
			if l.maxWidth > 0 {
				w = max(w, l.maxWidth-l.left)
			}
		}
		l.place(Fragment{Kind: ViewFragment, Offset: -1, URL: sp.URL, View: sp.View, Width: w, Height: h, Style: ts, Chars: 1}, false)
		if sp.BlockView {
			l.newLine()
		}
	default:
		for _, seg := range l.segments(sp, ts) {
			for _, tok := range tokenize(seg.text) {
				if l.stopped {
					return
				}
				offset := -1
				if seg.offset >= 0 {
					offset = seg.offset + tok.start
				}
				adv := l.measure(tok.text, seg.style)
				l.word(Fragment{Kind: TextFragment, Text: tok.text, Offset: offset, URL: sp.URL, Style: seg.style, advances: adv}, tok.space)
			}
		}
	}
}

type segment struct {
	text   string
	offset int // source rune offset, or -1
	style  TextStyle
}

// segments splits the span text at the boundaries of the range styles.
func (l *layouter) segments(sp Span, ts TextStyle) []segment {
	if sp.Offset < 0 || len(l.runs) == 0 {
		return []segment{{text: sp.Text, offset: sp.Offset, style: ts}}
	}
	var (
		out   []segment
		start int // byte index of the current segment
		run   = -1
		pos   = sp.Offset
	)
	for i := range sp.Text {
		r := l.runAt(pos)
		if r != run {
			if i != 0 {
				out = append(out, segment{text: sp.Text[start:i], offset: sp.Offset + utf8.RuneCountInString(sp.Text[:start]), style: l.runStyle(ts, run)})
			}
			start, run = i, r
		}
		pos++
	}
	out = append(out, segment{text: sp.Text[start:], offset: sp.Offset + utf8.RuneCountInString(sp.Text[:start]), style: l.runStyle(ts, run)})
	return out
}

// runAt returns the index of the run containing pos, or -1.
func (l *layouter) runAt(pos int) int {
	i := sort.Search(len(l.runs), func(i int) bool { return l.runs[i].End > pos })
	if i < len(l.runs) && l.runs[i].Start <= pos {
		return i
	}
	return -1
}

func (l *layouter) runStyle(ts TextStyle, run int) TextStyle {
	if run < 0 {
		return ts
	}
	return applyRunStyle(ts, l.runs[run].Style)
}

type token struct {
	text  string
	start int // rune offset in the segment
	space bool
}

// tokenize splits s into words and whitespace runs. Line feeds are
// laid out as spaces.
func tokenize(s string) []token {
	var (
		out   []token
		start int
		runes int
		first = 0
	)
	prevSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if i != 0 && space != prevSpace {
			out = append(out, token{text: s[start:i], start: first, space: prevSpace})
			start, first = i, runes
		}
		prevSpace = space
		runes++
	}
	if start < len(s) {
		out = append(out, token{text: s[start:], start: first, space: prevSpace})
	}
	return out
}

func (l *layouter) measure(s string, ts TextStyle) []float64 {
	out := make([]float64, 0, len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			r = ' '
		}
		out = append(out, l.m.advance(r, ts))
	}
	return out
}

func (l *layouter) lineEmpty() bool {
	for _, f := range l.cur.Fragments {
		if f.Kind != MarkerFragment {
			return false
		}
	}
	return true
}

// word places a text token, breaking the line before it, or inside it
// when it is longer than a line.
func (l *layouter) word(f Fragment, space bool) {
	if space {
		if l.lineEmpty() && !l.keepWS {
			return
		}
		f.Text = normalizeSpace(f.Text)
	}
	f.Width = sum(f.advances)
	if l.x+f.Width > l.right() && !l.lineEmpty() {
		l.newLine()
		if space && !l.keepWS {
			return
		}
	}
	// hard break of words longer than a line
	for l.x+f.Width > l.right() && len(f.advances) > 1 {
		n, w := 0, 0.
		for n < len(f.advances) && l.x+w+f.advances[n] <= l.right() {
			w += f.advances[n]
			n++
		}
		n = max(n, 1)
		head, tail := f.head(n), f.tail(n)
		l.place(head, true)
		l.newLine()
		if l.stopped {
			return
		}
		f = tail
	}
	l.place(f, true)
	l.lastText = f.Style
}

// tail returns the fragment after n runes.
func (f Fragment) tail(n int) Fragment {
	h := f.head(n)
	f.Text = f.Text[len(h.Text):]
	f.advances = f.advances[n:]
	f.Width = sum(f.advances)
	if f.Offset >= 0 {
		f.Offset += n
	}
	return f
}

func normalizeSpace(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '\n' || r == '\t' {
			out[i] = ' '
		}
	}
	return string(out)
}

// place appends f at the end of the current line, merging it with
// the previous text fragment when possible.
func (l *layouter) place(f Fragment, text bool) {
	if l.stopped {
		return
	}
	f.X = l.x
	f.Char = l.char
	if text {
		f.Chars = len(f.advances)
	}
	l.char += f.Chars
	l.x += f.Width
	if n := len(l.cur.Fragments); text && n != 0 {
		prev := &l.cur.Fragments[n-1]
		if prev.Kind == TextFragment && prev.Style == f.Style && prev.URL == f.URL &&
			(prev.Offset < 0) == (f.Offset < 0) && (f.Offset < 0 || prev.Offset+prev.Chars == f.Offset) {
			prev.Text += f.Text
			prev.advances = append(prev.advances, f.advances...)
			prev.Chars += f.Chars
			prev.Width += f.Width
			return
		}
	}
	l.cur.Fragments = append(l.cur.Fragments, f)
}

// newLine closes the current line, if not empty, and starts a new one
// at the block indentation.
func (l *layouter) newLine() {
	if len(l.cur.Fragments) != 0 {
		if l.maxLines > 0 && len(l.page.Lines) >= l.maxLines {
			l.truncate()
			return
		}
		l.commit()
	}
	l.cur = Line{}
	l.x = l.left
}

func (l *layouter) commit() {
	if len(l.cur.Fragments) == 0 {
		return
	}
	if l.maxLines > 0 && len(l.page.Lines) >= l.maxLines {
		l.truncate()
		return
	}
	line := l.cur
	height, ascent := 0., 0.
	for _, f := range line.Fragments {
		switch f.Kind {
		case TextFragment, MarkerFragment:
			height = max(height, f.Style.lineHeight())
			ascent = max(ascent, l.m.ascent(f.Style))
		default:
			height = max(height, f.Height)
			ascent = max(ascent, f.Height)
		}
	}
	if l.maxHeight > 0 && l.y+height > l.maxHeight && len(l.page.Lines) != 0 {
		l.truncate()
		return
	}
	line.Y, line.Height = l.y, height
	line.Baseline = l.y + ascent + (height-ascent)/2
	last := line.Fragments[len(line.Fragments)-1]
	line.Width = last.X + last.Width
	l.y += height
	l.page.Lines = append(l.page.Lines, line)
	l.cur = Line{}
}

// truncate drops the remaining content, ending the last line with an
// ellipsis if required.
func (l *layouter) truncate() {
	l.stopped = true
	l.page.Truncated = true
	l.cur = Line{}
	n := len(l.page.Lines)
	if !l.ellipsis || n == 0 {
		return
	}
	last := &l.page.Lines[n-1]
	ts := l.lastText
	adv := l.measure("…", ts)
	ellipsisWidth := sum(adv)
	for len(last.Fragments) != 0 {
		f := &last.Fragments[len(last.Fragments)-1]
		if f.X+f.Width+ellipsisWidth <= l.right() {
			break
		}
		if f.Kind != TextFragment || f.Chars <= 1 {
			last.Fragments = last.Fragments[:len(last.Fragments)-1]
			continue
		}
		*f = f.head(f.Chars - 1)
	}
	x := 0.
	if k := len(last.Fragments); k != 0 {
		x = last.Fragments[k-1].X + last.Fragments[k-1].Width
	}
	last.Fragments = append(last.Fragments, Fragment{Kind: TextFragment, Text: "…", Offset: -1, Char: l.char,
		X: x, Width: ellipsisWidth, Style: ts, advances: adv})
	last.Width = x + ellipsisWidth
}

func viewSize(view any, maxWidth float64, ts TextStyle) (w, h float64) {
	if m, ok := view.(Measurable); ok {
		return m.Measure(maxWidth, unbounded)
	}
	return ts.FontSize, ts.FontSize
}
