package bridge

import (
	"errors"
	"image"
	"testing"

	"github.com/benoitkugler/okrender/config"
	"github.com/benoitkugler/okrender/dispatch"
	"github.com/benoitkugler/okrender/loader"
	"github.com/benoitkugler/okrender/logging"
	"github.com/benoitkugler/okrender/store"
	"github.com/benoitkugler/okrender/style"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bold   = style.Descriptor{"fontWeight": "bold"}
	italic = style.Descriptor{"fontStyle": "italic"}
)

func isBold(d style.Descriptor) bool   { return d["fontWeight"] == "bold" }
func isItalic(d style.Descriptor) bool { return d["fontStyle"] == "italic" }

func TestLifecycle(t *testing.T) {
	b := New(nil)
	const h NodeHandle = 7

	assert.ErrorIs(t, b.SetContent(h, "x"), ErrNotBound)
	require.NoError(t, b.Create(h, Markdown))
	assert.ErrorIs(t, b.Create(h, SVG), ErrAlreadyBound)
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.SetContent(h, "hello"))
	require.NoError(t, b.Destroy(h))
	assert.Equal(t, 0, b.Len())

	// every operation on a destroyed handle fails without side effect
	assert.ErrorIs(t, b.SetContent(h, "x"), ErrNotBound)
	assert.ErrorIs(t, b.SetStyle(h, bold), ErrNotBound)
	assert.ErrorIs(t, b.SetConfig(h, style.Descriptor{}), ErrNotBound)
	assert.ErrorIs(t, b.ApplyStyleInRange(h, bold, 0, 0), ErrNotBound)
	assert.ErrorIs(t, b.RegisterImageLoader(h, nil), ErrNotBound)
	assert.ErrorIs(t, b.RegisterFontLoader(h, nil), ErrNotBound)
	assert.ErrorIs(t, b.RegisterInlineViewLoader(h, nil), ErrNotBound)
	assert.ErrorIs(t, b.RegisterReplacementViewLoader(h, nil), ErrNotBound)
	assert.ErrorIs(t, b.BindEvent(h, dispatch.ParseEnd, nil), ErrNotBound)
	assert.ErrorIs(t, b.BindExposure(h, dispatch.LinkAppear, nil), ErrNotBound)
	_, err := b.Markdown(h)
	assert.ErrorIs(t, err, ErrNotBound)
	assert.Equal(t, 0, b.Len())

	assert.ErrorIs(t, b.Destroy(h), ErrAlreadyDestroyed)
	assert.ErrorIs(t, b.Destroy(99), ErrNotBound)

	// a destroyed handle may be bound again, from scratch
	require.NoError(t, b.Create(h, Markdown))
	v, err := b.Markdown(h)
	require.NoError(t, err)
	assert.Empty(t, v.Document().Blocks)
}

func TestUnknownKind(t *testing.T) {
	b := New(nil)
	assert.Error(t, b.Create(1, Kind(9)))
	assert.Equal(t, 0, b.Len())
}

func TestStyleInRange(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	require.NoError(t, b.SetContent(1, "hello world"))
	require.NoError(t, b.ApplyStyleInRange(1, bold, 0, 5))
	require.NoError(t, b.ApplyStyleInRange(1, italic, 3, 8))

	at4, err := b.StyleAt(1, 4)
	require.NoError(t, err)
	assert.True(t, isBold(at4))
	assert.True(t, isItalic(at4))
	at9, err := b.StyleAt(1, 9)
	require.NoError(t, err)
	assert.False(t, isBold(at9))
	assert.False(t, isItalic(at9))

	// out of bounds patches fail and leave the others
	assert.ErrorIs(t, b.ApplyStyleInRange(1, italic, 5, 3), style.ErrRangeOutOfBounds)
	assert.ErrorIs(t, b.ApplyStyleInRange(1, italic, 0, 12), style.ErrRangeOutOfBounds)
	at4, _ = b.StyleAt(1, 4)
	assert.True(t, isBold(at4))

	// the rendered characters follow
	v, err := b.Markdown(1)
	require.NoError(t, err)
	frag := v.Layout().Lines[0].Fragments[0]
	assert.True(t, frag.Style.Bold)
	assert.Equal(t, "hel", frag.Text)
}

func TestSetContentDropsPatches(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	require.NoError(t, b.SetContent(1, "hello world"))
	require.NoError(t, b.ApplyStyleInRange(1, bold, 0, 5))

	require.NoError(t, b.SetContent(1, "a"))
	at0, _ := b.StyleAt(1, 0)
	assert.False(t, isBold(at0))
	assert.ErrorIs(t, b.ApplyStyleInRange(1, bold, 0, 5), style.ErrRangeOutOfBounds)
}

func TestParseErrorKeepsContent(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	require.NoError(t, b.SetContent(1, "kept"))
	require.NoError(t, b.ApplyStyleInRange(1, bold, 0, 2))

	err := b.SetContent(1, "bad\x00")
	var pe *store.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Offset)

	v, _ := b.Markdown(1)
	assert.Equal(t, "kept", v.Document().Text())
	at0, _ := b.StyleAt(1, 0)
	assert.True(t, isBold(at0), "patches survive a rejected payload")
}

func TestLoaderReplaced(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	var calls []string
	require.NoError(t, b.RegisterInlineViewLoader(1, func(req loader.InlineViewRequest) loader.View {
		calls = append(calls, "first")
		return nil
	}))
	require.NoError(t, b.RegisterInlineViewLoader(1, func(req loader.InlineViewRequest) loader.View {
		calls = append(calls, "second:"+req.ID)
		return nil
	}))
	require.NoError(t, b.SetContent(1, "![](inlineview://v)"))
	assert.Equal(t, []string{"second:v"}, calls)

	// nil clears the slot: the view is a placeholder
	require.NoError(t, b.RegisterInlineViewLoader(1, nil))
	require.NoError(t, b.SetContent(1, "![](inlineview://w)"))
	assert.Len(t, calls, 1)
}

func TestLoadersRegisteredAfterContent(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	require.NoError(t, b.SetContent(1, "![](inlineview://v) ![](a.png)"))
	v, err := b.Markdown(1)
	require.NoError(t, err)
	v.Render()
	b.Queue().Drain()

	var calls []string
	require.NoError(t, b.RegisterInlineViewLoader(1, func(req loader.InlineViewRequest) loader.View {
		calls = append(calls, "view:"+req.ID)
		return nil
	}))
	require.NoError(t, b.RegisterImageLoader(1, func(req loader.ImageRequest, done func(loader.ImageResult, error)) {
		calls = append(calls, "image:"+req.Src)
		done(loader.ImageResult{View: "img", Width: 4, Height: 4}, nil)
	}))
	v.Render()
	b.Queue().Drain()
	assert.Equal(t, []string{"view:v", "image:a.png"}, calls)
	assert.Equal(t, "img", v.ImageView("a.png"))

	require.NoError(t, b.Create(2, SVG))
	require.NoError(t, b.SetContent(2, `<svg viewBox="0 0 2 2"><image href="i.png" width="2" height="2"/></svg>`))
	d, err := b.SVG(2)
	require.NoError(t, err)
	d.Render()
	pixels := image.NewRGBA(image.Rect(0, 0, 1, 1))
	require.NoError(t, b.RegisterImageLoader(2, func(req loader.ImageRequest, done func(loader.ImageResult, error)) {
		calls = append(calls, "svg:"+req.Src)
		done(loader.ImageResult{View: pixels, Width: 1, Height: 1}, nil)
	}))
	d.Render()
	b.Queue().Drain()
	assert.Equal(t, "svg:i.png", calls[len(calls)-1])
	assert.Same(t, pixels, d.ImageView("i.png"))
}

func TestEventsOnQueue(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	var got []string
	require.NoError(t, b.BindEvent(1, dispatch.ParseEnd, func(ev dispatch.Event) { got = append(got, ev.Name) }))

	require.NoError(t, b.SetContent(1, "a"))
	assert.Empty(t, got, "delivered on the UI queue only")
	b.Queue().Drain()
	assert.Equal(t, []string{dispatch.ParseEnd}, got)

	require.NoError(t, b.BindEvent(1, dispatch.ParseEnd, nil))
	require.NoError(t, b.SetContent(1, "b"))
	b.Queue().Drain()
	assert.Len(t, got, 1)
}

func TestNodesAreIsolated(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	require.NoError(t, b.Create(2, Markdown))
	var got []int
	require.NoError(t, b.BindEvent(1, dispatch.ParseEnd, func(dispatch.Event) { got = append(got, 1) }))
	require.NoError(t, b.BindEvent(2, dispatch.ParseEnd, func(dispatch.Event) { got = append(got, 2) }))

	require.NoError(t, b.SetContent(2, "x"))
	b.Queue().Drain()
	assert.Equal(t, []int{2}, got)

	require.NoError(t, b.Destroy(2))
	require.NoError(t, b.SetContent(1, "y"))
	b.Queue().Drain()
	assert.Equal(t, []int{2, 1}, got)
}

func TestDestroyDropsPendingLoads(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, Markdown))
	var done func(loader.ImageResult, error)
	require.NoError(t, b.RegisterImageLoader(1, func(req loader.ImageRequest, cb func(loader.ImageResult, error)) {
		done = cb
	}))
	var events []string
	require.NoError(t, b.BindEvent(1, dispatch.DrawStart, func(ev dispatch.Event) { events = append(events, ev.Name) }))
	require.NoError(t, b.SetContent(1, "![](a.png)"))
	v, err := b.Markdown(1)
	require.NoError(t, err)
	v.Render()
	require.NotNil(t, done)

	require.NoError(t, b.Destroy(1))
	// the host completes the load later, from another goroutine
	finished := make(chan struct{})
	go func() {
		done(loader.ImageResult{View: "img", Width: 10, Height: 10}, nil)
		close(finished)
	}()
	<-finished
	b.Queue().Drain()
	assert.Nil(t, v.ImageView("a.png"))
	assert.Empty(t, events, "draw events fired before destroy are dropped")
}

func TestSVGNode(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Create(1, SVG))
	require.NoError(t, b.SetContent(1, `<svg viewBox="0 0 4 2"><rect width="2" height="2" fill="blue"/></svg>`))
	require.NoError(t, b.SetConfig(1, style.Descriptor{"density": 2}))

	d, err := b.SVG(1)
	require.NoError(t, err)
	img := d.Render()
	require.NotNil(t, img)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, uint8(0xff), img.RGBAAt(1, 1).B)

	// range styles are stored, and ignored by the drawing
	require.NoError(t, b.ApplyStyleInRange(1, bold, 0, 4))
	var pe *store.ParseError
	assert.True(t, errors.As(b.SetContent(1, "<svg><path d='M 1'/></svg>"), &pe))

	_, err = b.Markdown(1)
	assert.Error(t, err)
	_, err = b.SVG(2)
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
markdown:
  style:
    normalText:
      fontSize: 20
  config:
    textMaxline: 3
svg:
  density: 3
`))
	require.NoError(t, err)
	b := New(cfg)

	require.NoError(t, b.Create(1, Markdown))
	v, _ := b.Markdown(1)
	assert.Equal(t, 3, v.Options().MaxLines)
	require.NoError(t, b.SetContent(1, "a"))
	assert.Equal(t, 20., v.Layout().Lines[0].Fragments[0].Style.FontSize)

	require.NoError(t, b.Create(2, SVG))
	require.NoError(t, b.SetContent(2, `<svg viewBox="0 0 1 1"/>`))
	d, _ := b.SVG(2)
	assert.Equal(t, 3, d.Frame().Dx())
}

func TestFailuresAreLogged(t *testing.T) {
	type record struct {
		level logging.Level
		tag   string
	}
	var got []record
	logging.InitWriteFunction(func(level logging.Level, tag, msg string) { got = append(got, record{level, tag}) })
	logging.UseSysLog(false)
	t.Cleanup(func() {
		logging.InitWriteFunction(nil)
		logging.UseSysLog(true)
	})

	b := New(nil)
	assert.Error(t, b.SetContent(3, "x"))
	require.Len(t, got, 1)
	assert.Equal(t, record{logging.Warn, "bridge"}, got[0])
}
