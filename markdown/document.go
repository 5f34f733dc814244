package markdown

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/benoitkugler/okrender/store"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// BlockKind is the layout behavior of a block.
type BlockKind uint8

const (
	TextBlock BlockKind = iota // paragraphs, headings, list items, table rows
	CodeBlock
	RuleBlock
	ViewBlock // a host view replacing a node, or a block inline view
)

// Tags of the nodes which may be replaced by a host view, as used by
// the replaceTags configuration.
const (
	TagCodeBlock = "code_block"
	TagTable     = "table"
	TagHTMLBlock = "html_block"
	TagQuote     = "quote"
)

// SpanKind distinguishes text from embedded objects.
type SpanKind uint8

const (
	TextSpan SpanKind = iota
	ImageSpan
	InlineViewSpan
	BreakSpan // hard line break
)

// Span is a run of text sharing the same markdown formatting.
type Span struct {
	Kind SpanKind
	Text string
	// Offset is the rune offset of Text in the source, so that range
	// styles given in source positions apply to the rendered characters.
	// It is -1 when the text is not found verbatim in the source.
	Offset int

	Element     string // style element: normalText, link, inlineCode, ...
	Bold        bool
	Italic      bool
	Strike      bool
	URL         string // link destination, image source or inline view id
	Alt         string // image alternative text
	View        any    // host view of an inline view, nil for a placeholder
	BlockView   bool   // the inline view spans a whole line
}

// Block is a vertical unit of the document.
type Block struct {
	Kind    BlockKind
	Element string // normalText, h1 to h6, codeBlock or quote
	Indent  int    // nesting of lists and quotes
	Marker  string // list marker, for the first block of an item
	Spans   []Span

	// for ViewBlock
	Tag  string
	View any // nil renders a placeholder
}

// Document is the parsed content of a markdown view.
type Document struct {
	Blocks []Block
}

// Text returns the concatenated text of the document spans, one line per block.
func (doc *Document) Text() string {
	var b strings.Builder
	for i, bl := range doc.Blocks {
		if i != 0 {
			b.WriteByte('\n')
		}
		for _, sp := range bl.Spans {
			b.WriteString(sp.Text)
		}
	}
	return b.String()
}

// validate rejects payloads the engine can't lay out: invalid UTF-8 and
// NUL characters. Any other text is valid markdown.
func validate(content string) error {
	runes := 0
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRuneInString(content[i:])
		switch {
		case r == utf8.RuneError && size <= 1:
			return &store.ParseError{Offset: runes, Err: fmt.Errorf("invalid UTF-8 byte %#x", content[i])}
		case r == 0:
			return &store.ParseError{Offset: runes, Err: fmt.Errorf("NUL character")}
		}
		i += size
		runes++
	}
	return nil
}

// resolver builds host views while parsing. Its methods return nil
// when the host declines or has no loader.
type resolver interface {
	inlineView(id string, block bool) any
	replacement(tag, source string, nodeID int) any
}

const (
	inlineViewScheme = "inlineview://"
	blockViewScheme  = "blockview://"
)

func newParser() *parser.Parser {
	return parser.NewWithExtensions(parser.CommonExtensions | parser.Tables | parser.FencedCode |
		parser.Autolink | parser.Strikethrough)
}

// parseDocument builds the document of source. replace lists the node
// tags handed to the replacement loader; res may be nil.
func parseDocument(source string, plain bool, replace []string, res resolver) *Document {
	b := &builder{
		src:     source,
		res:     res,
		replace: map[string]bool{},
		doc:     &Document{},
	}
	for _, tag := range replace {
		b.replace[tag] = true
	}
	if plain {
		b.plainText()
		return b.doc
	}
	root := markdown.Parse([]byte(source), newParser())
	b.block(root, 0)
	return b.doc
}

type builder struct {
	src     string
	res     resolver
	replace map[string]bool
	doc     *Document

	// search cursor, in bytes and runes
	pos, runePos int
	nodeID       int
}

// locate finds literal in the source after the cursor, and returns its
// rune offset, or -1.
func (b *builder) locate(literal string) int {
	if literal == "" {
		return -1
	}
	idx := strings.Index(b.src[b.pos:], literal)
	if idx < 0 {
		return -1
	}
	b.runePos += utf8.RuneCountInString(b.src[b.pos : b.pos+idx])
	out := b.runePos
	b.runePos += utf8.RuneCountInString(literal)
	b.pos += idx + len(literal)
	return out
}

func (b *builder) plainText() {
	for _, line := range strings.Split(b.src, "\n") {
		bl := Block{Kind: TextBlock, Element: "normalText"}
		if line != "" {
			bl.Spans = []Span{{Text: line, Offset: b.locate(line), Element: "normalText"}}
		}
		b.doc.Blocks = append(b.doc.Blocks, bl)
	}
}

// replaced asks the host for a view replacing node, and returns true
// if one was given.
func (b *builder) replaced(tag, source string, indent int) bool {
	if !b.replace[tag] || b.res == nil {
		return false
	}
	b.nodeID++
	view := b.res.replacement(tag, source, b.nodeID)
	if view == nil {
		return false
	}
	b.locate(source)
	b.doc.Blocks = append(b.doc.Blocks, Block{Kind: ViewBlock, Tag: tag, View: view, Indent: indent})
	return true
}

type inlineState struct {
	element              string
	bold, italic, strike bool
	url                  string
}

func (b *builder) block(node ast.Node, indent int) {
	switch n := node.(type) {
	case *ast.Paragraph:
		b.textBlock("normalText", indent, n)
	case *ast.Heading:
		b.textBlock(fmt.Sprintf("h%d", min(max(n.Level, 1), 6)), indent, n)
	case *ast.CodeBlock:
		code := strings.TrimSuffix(string(n.Literal), "\n")
		if b.replaced(TagCodeBlock, code, indent) {
			return
		}
		bl := Block{Kind: CodeBlock, Element: "codeBlock", Indent: indent}
		for _, line := range strings.Split(code, "\n") {
			if len(bl.Spans) != 0 {
				bl.Spans = append(bl.Spans, Span{Kind: BreakSpan, Offset: -1})
			}
			bl.Spans = append(bl.Spans, Span{Text: line, Offset: b.locate(line), Element: "codeBlock"})
		}
		b.doc.Blocks = append(b.doc.Blocks, bl)
	case *ast.HTMLBlock:
		html := strings.TrimSpace(string(n.Literal))
		if b.replaced(TagHTMLBlock, html, indent) {
			return
		}
		b.doc.Blocks = append(b.doc.Blocks, Block{Kind: TextBlock, Element: "normalText", Indent: indent,
			Spans: []Span{{Text: html, Offset: b.locate(html), Element: "normalText"}}})
	case *ast.HorizontalRule:
		b.doc.Blocks = append(b.doc.Blocks, Block{Kind: RuleBlock, Indent: indent})
	case *ast.BlockQuote:
		if b.replaced(TagQuote, plainContent(n), indent) {
			return
		}
		start := len(b.doc.Blocks)
		b.children(n, indent+1)
		for i := start; i < len(b.doc.Blocks); i++ {
			if b.doc.Blocks[i].Element == "normalText" {
				b.doc.Blocks[i].Element = "quote"
			}
		}
	case *ast.Table:
		if b.replaced(TagTable, plainContent(n), indent) {
			return
		}
		b.children(n, indent)
	case *ast.TableRow:
		bl := Block{Kind: TextBlock, Element: "normalText", Indent: indent}
		for i, cell := range n.Children {
			if i != 0 {
				bl.Spans = append(bl.Spans, Span{Text: " | ", Offset: -1, Element: "normalText"})
			}
			st := inlineState{element: "normalText"}
			if c, ok := cell.(*ast.TableCell); ok && c.IsHeader {
				st.bold = true
			}
			b.inlineChildren(cell, st, &bl)
		}
		b.doc.Blocks = append(b.doc.Blocks, bl)
	case *ast.List:
		for i, item := range n.Children {
			marker := "•"
			if n.ListFlags&ast.ListTypeOrdered != 0 {
				marker = fmt.Sprintf("%d.", n.Start+i)
				if n.Start == 0 {
					marker = fmt.Sprintf("%d.", i+1)
				}
			}
			start := len(b.doc.Blocks)
			b.listItem(item, indent+1)
			if start < len(b.doc.Blocks) {
				b.doc.Blocks[start].Marker = marker
			}
		}
	default:
		b.children(node, indent)
	}
}

func (b *builder) children(node ast.Node, indent int) {
	for _, child := range node.GetChildren() {
		b.block(child, indent)
	}
}

// listItem handles tight items, whose inline content is not wrapped
// in a paragraph.
func (b *builder) listItem(item ast.Node, indent int) {
	var inline []ast.Node
	flush := func() {
		if len(inline) == 0 {
			return
		}
		bl := Block{Kind: TextBlock, Element: "normalText", Indent: indent}
		for _, n := range inline {
			b.inline(n, inlineState{element: "normalText"}, &bl)
		}
		b.doc.Blocks = append(b.doc.Blocks, bl)
		inline = nil
	}
	for _, child := range item.GetChildren() {
		if isInline(child) {
			inline = append(inline, child)
			continue
		}
		flush()
		b.block(child, indent)
	}
	flush()
}

func isInline(n ast.Node) bool {
	switch n.(type) {
	case *ast.Text, *ast.Emph, *ast.Strong, *ast.Del, *ast.Link, *ast.Image, *ast.Code,
		*ast.Softbreak, *ast.Hardbreak, *ast.HTMLSpan:
		return true
	}
	return false
}

func (b *builder) textBlock(element string, indent int, node ast.Node) {
	bl := Block{Kind: TextBlock, Element: element, Indent: indent}
	b.inlineChildren(node, inlineState{element: element}, &bl)
	// a lone block view replaces the whole paragraph
	if len(bl.Spans) == 1 && bl.Spans[0].BlockView && bl.Spans[0].View != nil {
		b.doc.Blocks = append(b.doc.Blocks, Block{Kind: ViewBlock, Tag: "blockview", View: bl.Spans[0].View, Indent: indent})
		return
	}
	b.doc.Blocks = append(b.doc.Blocks, bl)
}

func (b *builder) inlineChildren(node ast.Node, st inlineState, bl *Block) {
	for _, child := range node.GetChildren() {
		b.inline(child, st, bl)
	}
}

func (b *builder) inline(node ast.Node, st inlineState, bl *Block) {
	switch n := node.(type) {
	case *ast.Text:
		b.text(string(n.Literal), st, bl)
	case *ast.HTMLSpan:
		b.text(string(n.Literal), st, bl)
	case *ast.Code:
		st.element = "inlineCode"
		b.text(string(n.Literal), st, bl)
	case *ast.Emph:
		st.italic = true
		b.inlineChildren(n, st, bl)
	case *ast.Strong:
		st.bold = true
		b.inlineChildren(n, st, bl)
	case *ast.Del:
		st.strike = true
		b.inlineChildren(n, st, bl)
	case *ast.Link:
		st.element, st.url = "link", string(n.Destination)
		b.inlineChildren(n, st, bl)
	case *ast.Image:
		b.image(n, st, bl)
	case *ast.Softbreak:
		bl.Spans = append(bl.Spans, Span{Text: " ", Offset: -1, Element: st.element})
	case *ast.Hardbreak:
		bl.Spans = append(bl.Spans, Span{Kind: BreakSpan, Offset: -1})
	default:
		b.inlineChildren(node, st, bl)
	}
}

func (b *builder) text(literal string, st inlineState, bl *Block) {
	if literal == "" {
		return
	}
	bl.Spans = append(bl.Spans, Span{
		Text:    literal,
		Offset:  b.locate(literal),
		Element: st.element,
		Bold:    st.bold,
		Italic:  st.italic,
		Strike:  st.strike,
		URL:     st.url,
	})
}

func (b *builder) image(n *ast.Image, st inlineState, bl *Block) {
	dest := string(n.Destination)
	alt := plainContent(n)
	b.locate(dest)
	sp := Span{Kind: ImageSpan, URL: dest, Alt: alt, Offset: -1, Element: st.element}
	for _, scheme := range [...]string{inlineViewScheme, blockViewScheme} {
		if id, ok := strings.CutPrefix(dest, scheme); ok {
			sp.Kind, sp.URL, sp.BlockView = InlineViewSpan, id, scheme == blockViewScheme
			if b.res != nil {
				sp.View = b.res.inlineView(id, sp.BlockView)
			}
		}
	}
	bl.Spans = append(bl.Spans, sp)
}

// plainContent returns the concatenated literals below node.
func plainContent(node ast.Node) string {
	var sb strings.Builder
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.TableRow:
				sb.WriteByte('\n')
			}
			return ast.GoToNext
		}
		switch n := n.(type) {
		case *ast.Text:
			sb.Write(n.Literal)
		case *ast.Code:
			sb.Write(n.Literal)
		case *ast.CodeBlock:
			sb.Write(n.Literal)
		case *ast.TableCell:
			if siblings := n.GetParent().GetChildren(); len(siblings) != 0 && siblings[0] != n {
				sb.WriteString(" | ")
			}
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(sb.String())
}
