package markdown

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/benoitkugler/okrender/dispatch"
	"github.com/benoitkugler/okrender/loader"
	"github.com/benoitkugler/okrender/store"
	"github.com/benoitkugler/okrender/style"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	queue   *dispatch.Queue
	events  *dispatch.Dispatcher
	loaders *loader.Registry
	store   *store.Store
	v       *View
	fired   []dispatch.Event
}

var allEvents = []string{
	dispatch.ParseEnd, dispatch.TextOverflow, dispatch.DrawStart, dispatch.DrawEnd,
	dispatch.AnimationStep, dispatch.LinkClicked, dispatch.ImageClicked, dispatch.SelectionChanged,
}

func newFixture() *fixture {
	f := &fixture{queue: dispatch.NewQueue()}
	f.events = dispatch.New(f.queue, nil)
	for _, name := range allEvents {
		f.events.Bind(name, f.record)
	}
	f.loaders = loader.NewRegistry(f.queue.Post, nil)
	f.v = New(f.events, f.loaders)
	f.store = store.New(f.v.Validate)
	return f
}

func (f *fixture) record(ev dispatch.Event) { f.fired = append(f.fired, ev) }

func (f *fixture) set(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, f.store.SetContent(content))
	f.update()
}

func (f *fixture) update() { f.v.Update(f.store.Snapshot()) }

// drain runs the queued tasks and returns the delivered events.
func (f *fixture) drain() []dispatch.Event {
	f.queue.Drain()
	out := f.fired
	f.fired = nil
	return out
}

func names(evs []dispatch.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

func pageText(p *Page) string {
	lines := make([]string, len(p.Lines))
	for i, line := range p.Lines {
		for _, f := range line.Fragments {
			lines[i] += f.Text
		}
	}
	return strings.Join(lines, "\n")
}

// styleAtChar returns the style of the character at index i, in reading order.
func styleAtChar(t *testing.T, p *Page, i int) TextStyle {
	t.Helper()
	for _, line := range p.Lines {
		for _, f := range line.Fragments {
			if f.Kind == TextFragment && f.Char <= i && i < f.Char+f.Chars {
				return f.Style
			}
		}
	}
	t.Fatalf("no character at %d", i)
	return TextStyle{}
}

func findSpan(doc *Document, text string) (Span, bool) {
	for _, bl := range doc.Blocks {
		for _, sp := range bl.Spans {
			if sp.Text == text {
				return sp, true
			}
		}
	}
	return Span{}, false
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validate("# ok ✓"))

	var pe *store.ParseError
	err := validate("a\x00b")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Offset)

	err = validate("né\xff")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Offset)
}

func TestParseDocument(t *testing.T) {
	const src = "# Title\n\nHello *world* and **bold** [link](http://x) `code`\n\n- a\n- b\n\n```\nx := 1\n```\n\n---\n"
	doc := parseDocument(src, false, nil, nil)
	require.NotEmpty(t, doc.Blocks)

	assert.Equal(t, "h1", doc.Blocks[0].Element)
	title, ok := findSpan(doc, "Title")
	require.True(t, ok)
	assert.Equal(t, 2, title.Offset)

	world, ok := findSpan(doc, "world")
	require.True(t, ok)
	assert.True(t, world.Italic)
	assert.Equal(t, 16, world.Offset)

	bold, ok := findSpan(doc, "bold")
	require.True(t, ok)
	assert.True(t, bold.Bold)

	link, ok := findSpan(doc, "link")
	require.True(t, ok)
	assert.Equal(t, "link", link.Element)
	assert.Equal(t, "http://x", link.URL)

	code, ok := findSpan(doc, "code")
	require.True(t, ok)
	assert.Equal(t, "inlineCode", code.Element)

	var markers, codeBlocks, rules int
	for _, bl := range doc.Blocks {
		if bl.Marker == "•" {
			markers++
			assert.Equal(t, 1, bl.Indent)
		}
		switch bl.Kind {
		case CodeBlock:
			codeBlocks++
			require.Len(t, bl.Spans, 1)
			assert.Equal(t, "x := 1", bl.Spans[0].Text)
			assert.Equal(t, strings.Index(src, "x := 1"), bl.Spans[0].Offset)
		case RuleBlock:
			rules++
		}
	}
	assert.Equal(t, 2, markers)
	assert.Equal(t, 1, codeBlocks)
	assert.Equal(t, 1, rules)
}

func TestParseOffsetsInRunes(t *testing.T) {
	doc := parseDocument("héllo **wörld**", false, nil, nil)
	sp, ok := findSpan(doc, "wörld")
	require.True(t, ok)
	assert.Equal(t, 8, sp.Offset)
}

func TestPlainText(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"sourceType": "plainText"})
	f.set(t, "# a\n*b*")

	doc := f.v.Document()
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "# a", doc.Blocks[0].Spans[0].Text)
	assert.Equal(t, "*b*", doc.Blocks[1].Spans[0].Text)
	assert.Equal(t, 4, doc.Blocks[1].Spans[0].Offset)

	// switching the source type parses again
	f.store.SetConfig(style.Descriptor{"sourceType": nil})
	f.update()
	_, ok := findSpan(f.v.Document(), "b")
	assert.True(t, ok)
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture()
	f.set(t, "hello")
	assert.Equal(t, []string{dispatch.ParseEnd}, names(f.drain()))

	page := f.v.Render()
	assert.Equal(t, "hello", pageText(page))
	assert.Equal(t, []string{dispatch.DrawStart, dispatch.DrawEnd}, names(f.drain()))

	// unchanged: no new paint
	f.v.Render()
	assert.Empty(t, f.drain())

	// style only: layout but no parse
	f.store.SetStyle(style.Descriptor{"normalText": style.Descriptor{"fontSize": 20}})
	f.update()
	assert.Empty(t, f.drain())
	page = f.v.Render()
	assert.Equal(t, 20., page.Lines[0].Fragments[0].Style.FontSize)
	assert.Equal(t, []string{dispatch.DrawStart, dispatch.DrawEnd}, names(f.drain()))

	f.v.Close()
	assert.Nil(t, f.v.Render())
}

func TestLayoutWrap(t *testing.T) {
	f := newFixture()
	// without font, each character is half the font size wide
	f.store.SetConfig(style.Descriptor{"maxWidth": 80})
	f.set(t, "aaaa bbbb cccc")

	page := f.v.Layout()
	require.Len(t, page.Lines, 2)
	assert.Equal(t, "aaaa bbbb", strings.TrimSpace(pageText(&Page{Lines: page.Lines[:1]})))
	assert.Equal(t, "cccc", pageText(&Page{Lines: page.Lines[1:]}))
	assert.InDelta(t, 16*1.2, page.Lines[1].Y, 1e-9)
	assert.LessOrEqual(t, page.Width, 80.)
	assert.False(t, page.Truncated)
}

func TestLayoutLongWord(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"maxWidth": 40})
	f.set(t, "abcdefghijkl")

	page := f.v.Layout()
	require.Len(t, page.Lines, 3)
	assert.Equal(t, "abcde\nfghij\nkl", pageText(page))
}

func TestRangeStyles(t *testing.T) {
	f := newFixture()
	f.set(t, "hello world")
	require.NoError(t, f.store.ApplyStyleInRange(style.Descriptor{"fontWeight": "bold"}, 0, 5))
	require.NoError(t, f.store.ApplyStyleInRange(style.Descriptor{"fontStyle": "italic"}, 3, 8))
	f.update()

	page := f.v.Layout()
	at4 := styleAtChar(t, page, 4)
	assert.True(t, at4.Bold)
	assert.True(t, at4.Italic)
	at9 := styleAtChar(t, page, 9)
	assert.False(t, at9.Bold)
	assert.False(t, at9.Italic)
	assert.Equal(t, "hello world", pageText(page))

	// new content drops the patches
	f.set(t, "hello world")
	assert.False(t, styleAtChar(t, f.v.Layout(), 0).Bold)
}

func TestRangeStylesFollowSource(t *testing.T) {
	f := newFixture()
	f.set(t, "**ab** cd")
	// "cd" is at source offsets [7, 9)
	require.NoError(t, f.store.ApplyStyleInRange(style.Descriptor{"color": "red"}, 7, 9))
	f.update()

	page := f.v.Layout()
	assert.Equal(t, "ab cd", pageText(page))
	assert.Equal(t, uint8(0xff), styleAtChar(t, page, 3).Color.R)
	assert.Equal(t, uint8(0), styleAtChar(t, page, 0).Color.R)
	assert.True(t, styleAtChar(t, page, 0).Bold)
}

func TestElementStyles(t *testing.T) {
	f := newFixture()
	f.store.SetStyle(style.Descriptor{
		"normalText": style.Descriptor{"fontSize": 10, "color": "#00ff00"},
		"h2":         style.Descriptor{"color": "blue"},
		"link":       style.Descriptor{"textDecoration": "underline"},
	})
	f.set(t, "## T\n\n[l](u)")

	page := f.v.Layout()
	h2 := styleAtChar(t, page, 0)
	assert.Equal(t, 15., h2.FontSize)
	assert.True(t, h2.Bold)
	assert.Equal(t, uint8(0xff), h2.Color.B)

	link := styleAtChar(t, page, 1)
	assert.Equal(t, 10., link.FontSize)
	assert.True(t, link.Underline)
}

func TestMaxLinesEllipsis(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"maxWidth": 80, "textMaxline": 1})
	f.store.SetStyle(style.Descriptor{"textOverflow": "ellipsis"})
	f.set(t, "aaaa bbbb cccc dddd")
	f.drain()

	page := f.v.Layout()
	require.Len(t, page.Lines, 1)
	assert.True(t, page.Truncated)
	assert.Equal(t, "aaaa bbbb…", pageText(page))
	assert.LessOrEqual(t, page.Lines[0].Width, 80.)
	assert.Equal(t, []string{dispatch.TextOverflow}, names(f.drain()))
}

func TestMaxLinesClip(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"maxWidth": 80, "textMaxline": 1})
	f.set(t, "aaaa bbbb cccc dddd")

	page := f.v.Layout()
	require.Len(t, page.Lines, 1)
	assert.Equal(t, "aaaa bbbb ", pageText(page))
}

func TestTypewriter(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"animationType": "typewriter", "animationVelocity": 10})
	f.set(t, "abc def")
	f.v.Render()
	f.drain()

	t0 := time.Unix(100, 0)
	require.True(t, f.v.Tick(t0))
	assert.Equal(t, 1, f.v.Step())
	assert.False(t, f.v.Tick(t0.Add(50*time.Millisecond)))
	require.True(t, f.v.Tick(t0.Add(250*time.Millisecond)))
	assert.Equal(t, 3, f.v.Step())
	assert.Equal(t, "abc", pageText(f.v.Render()))

	require.True(t, f.v.Tick(t0.Add(10*time.Second)))
	assert.Equal(t, 7, f.v.Step())
	assert.False(t, f.v.Tick(t0.Add(11*time.Second)))
	assert.Equal(t, "abc def", pageText(f.v.Render()))

	var steps []map[string]any
	for _, ev := range f.drain() {
		if ev.Name == dispatch.AnimationStep {
			steps = append(steps, ev.Detail)
		}
	}
	assert.Equal(t, []map[string]any{
		{"step": 1, "max": 7},
		{"step": 3, "max": 7},
		{"step": 7, "max": 7},
	}, steps)
}

func TestTypewriterVelocityBounds(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"animationType": "typewriter", "animationVelocity": 1e12})
	f.set(t, "abc def")
	t0 := time.Unix(100, 0)
	require.True(t, f.v.Tick(t0))
	require.True(t, f.v.Tick(t0.Add(time.Millisecond)))
	assert.Equal(t, 7, f.v.Step())

	for _, velocity := range []any{"Inf", "NaN", math.Inf(1)} {
		f := newFixture()
		f.store.SetConfig(style.Descriptor{"animationType": "typewriter", "animationVelocity": velocity})
		f.set(t, "abc def")
		assert.Zero(t, f.v.Options().Velocity, velocity)
		assert.False(t, f.v.Tick(t0), velocity)
		assert.False(t, f.v.Tick(t0.Add(time.Millisecond)), velocity)
	}
}

func TestTypewriterStreaming(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"animationType": "typewriter", "animationVelocity": 10, "typewriterDynamicHeight": true})
	f.set(t, "abc")
	f.v.SetStep(2)
	f.v.Layout()

	// appended content keeps the position
	f.set(t, "abc\n\nnext paragraph")
	assert.Equal(t, 2, f.v.Step())
	page := f.v.Render()
	require.Len(t, page.Lines, 1)
	assert.InDelta(t, 16*1.2, page.Height, 1e-9)

	// replaced content starts again
	f.set(t, "other")
	assert.Equal(t, 0, f.v.Step())
}

type sizedView struct{ w, h float64 }

func (s sizedView) Measure(maxWidth, maxHeight float64) (float64, float64) { return s.w, s.h }

func TestTap(t *testing.T) {
	f := newFixture()
	f.loaders.RegisterImageLoader(func(req loader.ImageRequest, done func(loader.ImageResult, error)) {
		done(loader.ImageResult{View: "img", Width: 20, Height: 10}, nil)
	})
	f.set(t, "[go](http://go.dev) ![alt](pic.png)")
	f.v.Layout()
	f.drain() // image completion
	assert.Equal(t, "img", f.v.ImageView("pic.png"))

	page := f.v.Layout()
	images := page.Images()
	require.Len(t, images, 1)
	assert.Equal(t, Rect{X: 24, Y: 0, W: 20, H: 10}, images[0].Rect)

	assert.True(t, f.v.Tap(4, 4))
	assert.True(t, f.v.Tap(30, 5))
	assert.False(t, f.v.Tap(200, 5))
	evs := f.drain()
	require.Len(t, evs, 2)
	assert.Equal(t, dispatch.LinkClicked, evs[0].Name)
	assert.Equal(t, map[string]any{"url": "http://go.dev", "content": "go"}, evs[0].Detail)
	assert.Equal(t, dispatch.ImageClicked, evs[1].Name)
	assert.Equal(t, "pic.png", evs[1].Detail["url"])
}

func TestImagePlaceholder(t *testing.T) {
	f := newFixture()
	f.set(t, "![alt](pic.png)")
	images := f.v.Layout().Images()
	require.Len(t, images, 1)
	assert.Equal(t, 16., images[0].Rect.W)
	assert.Nil(t, f.v.ImageView("pic.png"))
}

func TestSelection(t *testing.T) {
	f := newFixture()
	f.set(t, "hello world")
	assert.False(t, f.v.Select(0, 5))

	f.store.SetConfig(style.Descriptor{"enableSelection": true})
	f.update()
	f.drain()
	require.True(t, f.v.Select(0, 5))
	assert.False(t, f.v.Select(0, 5))
	start, end := f.v.Selection()
	assert.Equal(t, 0, start)
	assert.Equal(t, 5, end)
	assert.Equal(t, []Rect{{X: 0, Y: 0, W: 40, H: 16 * 1.2}}, f.v.SelectionRects())

	evs := f.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, map[string]any{"start": 0, "end": 5, "text": "hello"}, evs[0].Detail)

	require.True(t, f.v.Select(-1, 0))
	assert.Nil(t, f.v.SelectionRects())
}

func TestCharAt(t *testing.T) {
	f := newFixture()
	f.set(t, "hello world")
	page := f.v.Layout()
	assert.Equal(t, 0, page.CharAt(1, 1))
	assert.Equal(t, 6, page.CharAt(49, 1))
	assert.Equal(t, -1, page.CharAt(1, 100))
}

func TestExposure(t *testing.T) {
	f := newFixture()
	f.set(t, "[a](u1)\n\n[b](u2)")

	// nothing is tracked without exposure handler
	f.v.SetViewport(0, 20)
	f.drain()

	var exposed []string
	for _, name := range []string{dispatch.LinkAppear, dispatch.LinkDisappear} {
		f.events.BindExposure(name, func(ev dispatch.Event) {
			exposed = append(exposed, ev.Name+":"+ev.Detail["url"].(string))
		})
	}
	f.v.SetViewport(0, 20)
	f.queue.Drain()
	assert.Equal(t, []string{"linkAppear:u1"}, exposed)

	exposed = nil
	f.v.SetViewport(0, 20)
	f.queue.Drain()
	assert.Empty(t, exposed)

	f.v.SetViewport(30, 50)
	f.queue.Drain()
	assert.ElementsMatch(t, []string{"linkAppear:u2", "linkDisappear:u1"}, exposed)
}

func TestInlineViews(t *testing.T) {
	f := newFixture()
	var requests []loader.InlineViewRequest
	f.loaders.RegisterInlineViewLoader(func(req loader.InlineViewRequest) loader.View {
		requests = append(requests, req)
		if req.ID == "missing" {
			return nil
		}
		return sizedView{30, 12}
	})
	f.set(t, "see ![](inlineview://v1) and ![](inlineview://missing)\n\n![](blockview://b1)")

	require.Len(t, requests, 3)
	assert.False(t, requests[0].Block)
	assert.True(t, requests[2].Block)

	var views []Fragment
	for _, line := range f.v.Layout().Lines {
		for _, fr := range line.Fragments {
			if fr.Kind == ViewFragment {
				views = append(views, fr)
			}
		}
	}
	require.Len(t, views, 3)
	assert.Equal(t, 30., views[0].Width)
	assert.Equal(t, "v1", views[0].URL)
	assert.Nil(t, views[1].View) // placeholder
	assert.Equal(t, 16., views[1].Width)
	assert.Equal(t, "blockview", views[2].URL)

	last := f.v.Document().Blocks[len(f.v.Document().Blocks)-1]
	assert.Equal(t, ViewBlock, last.Kind)
}

func TestBlockViewPlaceholder(t *testing.T) {
	f := newFixture()
	f.set(t, "![](blockview://b1)")
	page := f.v.Layout()
	require.Len(t, page.Lines, 1)
	assert.Nil(t, page.Lines[0].Fragments[0].View)
	assert.Equal(t, 16., page.Width)

	// bounded pages give the whole line to block views
	f.store.SetConfig(style.Descriptor{"maxWidth": 200})
	f.update()
	assert.Equal(t, 200., f.v.Layout().Width)
}

func TestLoadersRegisteredLate(t *testing.T) {
	f := newFixture()
	f.store.SetStyle(style.Descriptor{"normalText": style.Descriptor{"fontFamily": "Serif"}})
	f.set(t, "![](inlineview://v) ![](pic.png)")
	f.v.Render()
	f.drain()
	assert.Nil(t, f.v.ImageView("pic.png"))

	var ids []string
	f.loaders.RegisterInlineViewLoader(func(req loader.InlineViewRequest) loader.View {
		ids = append(ids, req.ID)
		return sizedView{30, 12}
	})
	f.v.LoadersChanged(loader.InlineView)
	assert.Equal(t, []string{"v"}, ids)

	var srcs, families []string
	f.loaders.RegisterImageLoader(func(req loader.ImageRequest, done func(loader.ImageResult, error)) {
		srcs = append(srcs, req.Src)
		done(loader.ImageResult{View: "img", Width: 20, Height: 10}, nil)
	})
	f.v.LoadersChanged(loader.Image)
	f.loaders.RegisterFontLoader(func(req loader.FontRequest, done func([]byte, error)) {
		families = append(families, req.Family)
		done(nil, errors.New("not found"))
	})
	f.v.LoadersChanged(loader.Font)
	f.v.Render()
	f.drain()
	assert.Equal(t, []string{"pic.png"}, srcs)
	assert.Equal(t, "img", f.v.ImageView("pic.png"))
	assert.Equal(t, []string{"Serif"}, families)

	// settled resources are not requested again
	f.v.LoadersChanged(loader.Image)
	f.v.Render()
	f.drain()
	assert.Len(t, srcs, 1)
}

func TestReplacementViews(t *testing.T) {
	f := newFixture()
	f.store.SetConfig(style.Descriptor{"replaceTags": []any{TagCodeBlock, TagTable}})
	const src = "```\ncode\n```\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"

	// without loader, the default rendering is kept
	f.set(t, src)
	assert.Equal(t, CodeBlock, f.v.Document().Blocks[0].Kind)

	var tags []string
	f.loaders.RegisterReplacementViewLoader(func(req loader.ReplacementViewRequest) loader.View {
		tags = append(tags, req.Tag)
		if req.Tag == TagTable {
			assert.Contains(t, req.Source, "|")
			return nil
		}
		assert.Equal(t, "code", req.Source)
		return "R"
	})
	f.set(t, src+" ")
	assert.Equal(t, []string{TagCodeBlock, TagTable}, tags)
	blocks := f.v.Document().Blocks
	assert.Equal(t, ViewBlock, blocks[0].Kind)
	assert.Equal(t, "R", blocks[0].View)
	assert.NotEqual(t, ViewBlock, blocks[1].Kind)
}

func TestFontLoading(t *testing.T) {
	f := newFixture()
	var families []string
	f.loaders.RegisterFontLoader(func(req loader.FontRequest, done func([]byte, error)) {
		families = append(families, req.Family)
		done(nil, errors.New("not found"))
	})
	f.store.SetStyle(style.Descriptor{"normalText": style.Descriptor{"fontFamily": "Serif"}})
	f.set(t, "a\n\nb")
	f.v.Layout()
	f.drain()

	f.store.SetConfig(style.Descriptor{"maxWidth": 100})
	f.update()
	page := f.v.Layout()
	assert.Equal(t, []string{"Serif"}, families)
	// fallback metrics
	assert.Equal(t, 8., page.Lines[0].Width)
}
