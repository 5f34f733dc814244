// Package markdown implements the markdown renderable of a node: it parses
// the node content with gomarkdown, resolves the styles of the elements
// and the range patches, lays the document out as a display list, and
// reports parse, draw, animation, click, selection and exposure events.
//
// Configuration keys: animationType (typewriter or none),
// animationVelocity (characters per second), initialAnimationStep,
// typewriterDynamicHeight, enableSelection, sourceType (plainText
// disables the markdown syntax), textMaxline, maxWidth, maxHeight,
// replaceTags, selectionHighlightColor, selectionHandleColor and
// selectionHandleSize.
package markdown

import (
	"errors"
	"image/color"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/benoitkugler/okrender/dispatch"
	"github.com/benoitkugler/okrender/loader"
	"github.com/benoitkugler/okrender/logging"
	"github.com/benoitkugler/okrender/store"
	"github.com/benoitkugler/okrender/style"
	"github.com/go-text/typesetting/font"
)

// Options is the decoded configuration of a View.
type Options struct {
	Typewriter          bool
	Velocity            float64 // characters per second
	InitialStep         int
	DynamicHeight       bool
	EnableSelection     bool
	PlainText           bool
	MaxLines            int
	MaxWidth, MaxHeight float64
	ReplaceTags         []string
	SelectionHighlight  color.NRGBA
	SelectionHandle     color.NRGBA
	SelectionHandleSize float64
}

func decodeOptions(d style.Descriptor) Options {
	opts := Options{
		Typewriter:          d.String("animationType", "none") == "typewriter",
		Velocity:            d.Float("animationVelocity", 0),
		InitialStep:         d.Int("initialAnimationStep", 0),
		DynamicHeight:       d.Bool("typewriterDynamicHeight", false),
		EnableSelection:     d.Bool("enableSelection", false),
		PlainText:           d.String("sourceType", "markdown") == "plainText",
		MaxLines:            d.Int("textMaxline", 0),
		MaxWidth:            d.Float("maxWidth", 0),
		MaxHeight:           d.Float("maxHeight", 0),
		ReplaceTags:         d.Strings("replaceTags"),
		SelectionHighlight:  color.NRGBA{R: 0x1a, G: 0x73, B: 0xe8, A: 0x40},
		SelectionHandle:     color.NRGBA{R: 0x1a, G: 0x73, B: 0xe8, A: 0xff},
		SelectionHandleSize: d.Float("selectionHandleSize", 10),
	}
	if math.IsNaN(opts.Velocity) || math.IsInf(opts.Velocity, 0) {
		opts.Velocity = 0
	}
	if c, ok := d.Color("selectionHighlightColor"); ok {
		opts.SelectionHighlight = c
	}
	if c, ok := d.Color("selectionHandleColor"); ok {
		opts.SelectionHandle = c
	}
	return opts
}

type imageState struct {
	pending bool
	failed  bool
	result  loader.ImageResult
}

// View is the markdown renderable of a node. It is not safe for
// concurrent use and lives on the UI goroutine.
type View struct {
	events  *dispatch.Dispatcher
	loaders *loader.Registry
	log     *slog.Logger

	opts        Options
	snap        store.Snapshot
	doc         *Document
	fingerprint uint64
	plain       bool
	version     uint64
	parsed      bool

	faces     map[string]*font.Face
	requested map[string]bool // font families, true while loading
	images    map[string]*imageState

	page  *Page
	dirty bool

	step     int
	stepTime time.Time

	selStart, selEnd int

	visibleLinks  map[linkKey]bool
	visibleImages map[string]bool

	closed bool
}

type linkKey struct{ url, text string }

// New returns an empty view, firing its events on events and
// resolving its resources with loaders.
func New(events *dispatch.Dispatcher, loaders *loader.Registry) *View {
	return &View{
		events:        events,
		loaders:       loaders,
		log:           logging.For("markdown"),
		doc:           &Document{},
		faces:         map[string]*font.Face{},
		requested:     map[string]bool{},
		images:        map[string]*imageState{},
		visibleLinks:  map[linkKey]bool{},
		visibleImages: map[string]bool{},
		selStart:      -1,
		selEnd:        -1,
	}
}

// Validate rejects content which is not valid UTF-8 or contains NUL
// characters. Markdown syntax itself never fails.
func (v *View) Validate(content string) error { return validate(content) }

// Update takes the new state of the node. The document is parsed again
// only when the content or the source type changed; any other change
// triggers a new layout.
func (v *View) Update(snap store.Snapshot) {
	if v.closed || (v.parsed && snap.Version == v.version) {
		return
	}
	previous := v.snap.Content
	v.version = snap.Version
	v.snap = snap
	opts := decodeOptions(snap.Config)
	reparse := !v.parsed || snap.Fingerprint != v.fingerprint || opts.PlainText != v.plain ||
		!slices.Equal(opts.ReplaceTags, v.opts.ReplaceTags)
	// streamed content, growing by appends, keeps typing where it was
	if (opts.Typewriter && !v.opts.Typewriter) || (reparse && !strings.HasPrefix(snap.Content, previous)) {
		v.step, v.stepTime = opts.InitialStep, time.Time{}
	}
	v.opts = opts
	v.dirty = true
	if !reparse {
		return
	}
	v.fingerprint, v.plain, v.parsed = snap.Fingerprint, opts.PlainText, true
	v.parse()
}

func (v *View) parse() {
	end := logging.Trace("markdown.parse")
	v.doc = parseDocument(v.snap.Content, v.opts.PlainText, v.opts.ReplaceTags, v)
	end()
	v.events.Fire(dispatch.Event{Name: dispatch.ParseEnd, Detail: map[string]any{"blocks": len(v.doc.Blocks)}})
}

// LoadersChanged is called when the host registers or clears a loader
// of kind. Resources which could not be resolved are requested again:
// failed images and missing fonts on the next layout, views at once by
// parsing the document again.
func (v *View) LoadersChanged(kind loader.Kind) {
	if v.closed {
		return
	}
	switch kind {
	case loader.Image:
		for src, st := range v.images {
			if st.failed {
				delete(v.images, src)
			}
		}
	case loader.Font:
		for family, loading := range v.requested {
			if _, ok := v.faces[family]; !ok && !loading {
				delete(v.requested, family)
			}
		}
	case loader.InlineView, loader.ReplacementView:
		if v.parsed {
			v.parse()
		}
	}
	v.dirty = true
}

// Document returns the parsed document.
func (v *View) Document() *Document { return v.doc }

// Options returns the decoded configuration.
func (v *View) Options() Options { return v.opts }

func (v *View) inlineView(id string, block bool) any {
	view, err := v.loaders.LoadInlineView(loader.InlineViewRequest{ID: id, Block: block, MaxWidth: v.opts.MaxWidth, MaxHeight: v.opts.MaxHeight})
	if err != nil {
		v.log.Debug("inline view placeholder", "id", id, "err", err)
	}
	return view
}

func (v *View) replacement(tag, source string, nodeID int) any {
	view, err := v.loaders.LoadReplacementView(loader.ReplacementViewRequest{
		Tag: tag, Source: source, NodeID: nodeID, MaxWidth: v.opts.MaxWidth, MaxHeight: v.opts.MaxHeight,
	})
	if err != nil {
		v.log.Debug("no replacement view", "tag", tag, "err", err)
	}
	return view
}

// Layout lays the document out if something changed since the last
// call, and returns the complete page.
func (v *View) Layout() *Page {
	if !v.dirty && v.page != nil {
		return v.page
	}
	v.dirty = false
	end := logging.Trace("markdown.layout")
	defer end()

	styles := newStyleResolver(v.snap.Style)
	l := &layouter{
		layoutParams: layoutParams{
			maxWidth:  v.opts.MaxWidth,
			maxHeight: v.opts.MaxHeight,
			maxLines:  v.opts.MaxLines,
			ellipsis:  styles.textOverflow() == "ellipsis",
		},
		m:         &measurer{faces: v.faces, missing: v.loadFont},
		styles:    styles,
		runs:      style.Runs(nil, v.snap.Patches, v.snap.Length),
		imageSize: v.imageSize,
	}
	if len(v.snap.Patches) == 0 {
		l.runs = nil
	}
	wasTruncated := v.page != nil && v.page.Truncated
	v.page = l.layout(v.doc)
	if v.page.Truncated && !wasTruncated {
		v.events.Fire(dispatch.Event{Name: dispatch.TextOverflow, Detail: map[string]any{"lines": len(v.page.Lines)}})
	}
	v.step = min(max(v.step, 0), v.page.Chars)
	return v.page
}

// Render returns the display list to paint, which is the laid out page
// restricted to the characters already typed when the typewriter
// animation is enabled. drawStart and drawEnd are fired around each
// paint of a changed page.
func (v *View) Render() *Page {
	if v.closed {
		return nil
	}
	changed := v.dirty || v.page == nil
	page := v.Layout()
	if changed {
		v.events.Fire(dispatch.Event{Name: dispatch.DrawStart})
	}
	if v.opts.Typewriter {
		page = page.Visible(v.step, v.opts.DynamicHeight)
	}
	if changed {
		v.events.Fire(dispatch.Event{Name: dispatch.DrawEnd, Detail: map[string]any{"width": page.Width, "height": page.Height}})
	}
	return page
}

// Tick advances the typewriter animation to the frame time now, and
// returns true if new characters became visible.
func (v *View) Tick(now time.Time) bool {
	if v.closed || !v.opts.Typewriter || v.opts.Velocity <= 0 {
		return false
	}
	total := v.Layout().Chars
	if v.step >= total {
		return false
	}
	interval := max(time.Duration(float64(time.Second)/v.opts.Velocity), time.Nanosecond)
	var count int
	if v.stepTime.IsZero() {
		count = 1
		v.stepTime = now
	} else {
		count = int(now.Sub(v.stepTime) / interval)
		v.stepTime = v.stepTime.Add(time.Duration(count) * interval)
	}
	if count <= 0 {
		return false
	}
	v.step += count
	if v.step >= total {
		v.step = total
		v.stepTime = time.Time{}
	}
	v.dirty = true
	v.events.Fire(dispatch.Event{Name: dispatch.AnimationStep, Detail: map[string]any{"step": v.step, "max": total}})
	return true
}

// Step returns the current typewriter position.
func (v *View) Step() int { return v.step }

// SetStep moves the typewriter to step, without event.
func (v *View) SetStep(step int) {
	v.step = max(step, 0)
	v.stepTime = time.Time{}
	v.dirty = true
}

// loadFont requests the font file of family, once.
func (v *View) loadFont(family string) {
	if _, ok := v.requested[family]; ok {
		return
	}
	v.requested[family] = true
	err := v.loaders.LoadFont(loader.FontRequest{Family: family}, func(res loader.FontResult, err error) {
		if v.closed {
			return
		}
		v.requested[family] = false
		if err != nil {
			return
		}
		v.faces[family] = res.Face
		v.dirty = true
	})
	if err != nil {
		v.requested[family] = false
		v.log.Debug("font fallback", "family", family, "err", err)
	}
}

// imageSize returns the size of the image at src, requesting it on
// first use. Images not loaded yet are laid out as a square of the
// font size.
func (v *View) imageSize(src string, ts TextStyle, maxWidth float64) (w, h float64) {
	st, ok := v.images[src]
	if !ok {
		st = &imageState{pending: true}
		v.images[src] = st
		err := v.loaders.LoadImage(loader.ImageRequest{Src: src, MaxWidth: maxWidth, MaxHeight: v.opts.MaxHeight},
			func(res loader.ImageResult, err error) {
				st.pending = false
				if err != nil {
					st.failed = true
					return
				}
				st.result = res
				v.dirty = true
			})
		if err != nil {
			st.pending, st.failed = false, true
			if !errors.Is(err, loader.ErrNoLoaderRegistered) {
				v.log.Warn("image request failed", "src", src, "err", err)
			}
		}
	}
	if st.pending || st.failed || st.result.Width <= 0 || st.result.Height <= 0 {
		return ts.FontSize, ts.FontSize
	}
	w, h = st.result.Width, st.result.Height
	if w > maxWidth {
		w, h = maxWidth, h*maxWidth/w
	}
	return w, h
}

// ImageView returns the host view loaded for src, or nil.
func (v *View) ImageView(src string) loader.View {
	if st, ok := v.images[src]; ok {
		return st.result.View
	}
	return nil
}

// Close releases the document. Pending loads are dropped.
func (v *View) Close() {
	v.closed = true
	v.doc, v.page = &Document{}, nil
	clear(v.images)
	clear(v.faces)
}
