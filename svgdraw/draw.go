// Package svgdraw binds a parsed SVG document to a node: it receives
// the node content and configuration, and paints it with svgraster.
//
// Configuration keys: left, top, width, height (in points, the size
// defaults to the view box), antiAlias, density (pixels per point) and
// strict (unsupported elements are errors instead of warnings).
//
// Image elements are requested from the image loader of the node, whose
// views must implement image.Image to be painted; the drawing is
// painted again when they arrive.
package svgdraw

import (
	"errors"
	"image"
	"log/slog"
	"math"
	"strings"

	"github.com/benoitkugler/okrender/dispatch"
	"github.com/benoitkugler/okrender/loader"
	"github.com/benoitkugler/okrender/logging"
	"github.com/benoitkugler/okrender/store"
	"github.com/benoitkugler/okrender/style"
	"github.com/benoitkugler/okrender/svgicon"
	"github.com/benoitkugler/okrender/svgraster"
	"github.com/zeebo/xxh3"
)

// Options is the decoded configuration of a Drawable.
type Options struct {
	Left, Top     float64
	Width, Height float64 // 0 means the view box size
	AntiAlias     bool
	Density       float64
	Strict        bool
}

func decodeOptions(d style.Descriptor) Options {
	density := d.Float("density", 1)
	if density <= 0 {
		density = 1
	}
	return Options{
		Left:      d.Float("left", 0),
		Top:       d.Float("top", 0),
		Width:     d.Float("width", 0),
		Height:    d.Float("height", 0),
		AntiAlias: d.Bool("antiAlias", true),
		Density:   density,
		Strict:    d.Bool("strict", false),
	}
}

func (o Options) errorMode() svgicon.ErrorMode {
	if o.Strict {
		return svgicon.StrictErrorMode
	}
	return svgicon.WarnErrorMode
}

// Drawable is the SVG renderable of a node. It is not safe for
// concurrent use and lives on the UI goroutine.
type Drawable struct {
	events  *dispatch.Dispatcher
	loaders *loader.Registry
	log     *slog.Logger

	opts Options

	// last validated payload, reused by Update
	validated   *svgicon.SvgIcon
	validatedFp uint64

	icon        *svgicon.SvgIcon // nil for an empty content
	fingerprint uint64
	version     uint64

	img   *image.RGBA
	dirty bool

	images    map[string]*imageState // by href
	rendering bool
	closed    bool
}

type imageState struct {
	pending, failed bool
	result          loader.ImageResult
}

// New returns an empty drawable, firing its events on `events` and
// requesting image elements from loaders.
func New(events *dispatch.Dispatcher, loaders *loader.Registry) *Drawable {
	return &Drawable{
		events:      events,
		loaders:     loaders,
		log:         logging.For("svg"),
		opts:        decodeOptions(nil),
		fingerprint: xxh3.HashString(""),
		images:      map[string]*imageState{},
	}
}

// Validate parses content. The empty content is valid and clears the drawing.
func (d *Drawable) Validate(content string) error {
	if content == "" {
		return nil
	}
	icon, err := d.parse(content, d.opts)
	if err != nil {
		return &store.ParseError{Offset: -1, Err: err}
	}
	d.validated, d.validatedFp = icon, xxh3.HashString(content)
	return nil
}

func (d *Drawable) parse(content string, opts Options) (*svgicon.SvgIcon, error) {
	defer logging.Trace("svg.parse")()
	return svgicon.ReadIconStream(strings.NewReader(content), opts.errorMode())
}

// Update takes the new state of the node. The content is only parsed
// again when its fingerprint changed.
func (d *Drawable) Update(snap store.Snapshot) {
	if snap.Version == d.version && d.version != 0 {
		return
	}
	d.version = snap.Version
	opts := decodeOptions(snap.Config)
	if opts != d.opts {
		d.opts = opts
		d.dirty = true
	}
	if snap.Fingerprint == d.fingerprint {
		return
	}
	d.fingerprint = snap.Fingerprint
	d.dirty = true
	switch {
	case snap.Content == "":
		d.icon = nil
	case d.validated != nil && d.validatedFp == snap.Fingerprint:
		d.icon = d.validated
	default:
		icon, err := d.parse(snap.Content, d.opts)
		if err != nil { // accepted by a previous Validate with another mode
			d.log.Warn("svg content rejected", "err", err)
			icon = nil
		}
		d.icon = icon
	}
	d.validated = nil
	d.events.Fire(dispatch.Event{Name: dispatch.ParseEnd, Detail: map[string]any{"empty": d.icon == nil}})
}

// Size returns the drawing size in points. Without explicit size
// nor view box, the extent of the shapes is used.
func (d *Drawable) Size() (w, h float64) {
	w, h = d.opts.Width, d.opts.Height
	if d.icon == nil {
		return w, h
	}
	vb := d.icon.ViewBox
	if vb.W == 0 || vb.H == 0 {
		ext := d.icon.Extent()
		vb.W, vb.H = max(vb.W, ext.X+ext.W), max(vb.H, ext.Y+ext.H)
	}
	if w == 0 {
		w = vb.W
	}
	if h == 0 {
		h = vb.H
	}
	return w, h
}

// Frame returns the destination rectangle in pixels.
func (d *Drawable) Frame() image.Rectangle {
	w, h := d.Size()
	x, y := d.opts.Left*d.opts.Density, d.opts.Top*d.opts.Density
	return image.Rect(int(x), int(y), int(x)+d.pixels(w), int(y)+d.pixels(h))
}

func (d *Drawable) pixels(v float64) int { return int(math.Ceil(v * d.opts.Density)) }

// Render paints the drawing if it changed since the last call,
// and returns it. It returns nil for an empty content.
func (d *Drawable) Render() *image.RGBA {
	if !d.dirty {
		return d.img
	}
	d.dirty = false
	w, h := d.Size()
	if d.icon == nil || d.pixels(w) <= 0 || d.pixels(h) <= 0 {
		d.img = nil
		return nil
	}
	d.events.Fire(dispatch.Event{Name: dispatch.DrawStart})
	d.rendering = true
	defer func() { d.rendering = false }()
	end := logging.Trace("svg.render")
	d.img = svgraster.Rasterize(d.icon, d.pixels(w), d.pixels(h), d.opts.AntiAlias, d.image)
	end()
	d.events.Fire(dispatch.Event{Name: dispatch.DrawEnd, Detail: map[string]any{
		"width":  d.img.Bounds().Dx(),
		"height": d.img.Bounds().Dy(),
	}})
	return d.img
}

// image returns the decoded image of href, requesting it on first use.
// Pending, failed and undecodable images are not painted.
func (d *Drawable) image(href string) image.Image {
	st, ok := d.images[href]
	if !ok {
		st = &imageState{pending: true}
		d.images[href] = st
		err := d.loaders.LoadImage(loader.ImageRequest{Src: href}, func(res loader.ImageResult, err error) {
			st.pending = false
			if err != nil {
				st.failed = true
				return
			}
			st.result = res
			// synchronous loaders complete inside Render, which reads st next
			if d.closed || d.rendering || d.images[href] != st {
				return
			}
			d.dirty = true
			d.Render()
		})
		if err != nil {
			st.pending, st.failed = false, true
			if !errors.Is(err, loader.ErrNoLoaderRegistered) {
				d.log.Warn("image request failed", "href", href, "err", err)
			}
		}
	}
	img, ok := st.result.View.(image.Image)
	if !ok && st.result.View != nil {
		d.log.Debug("image view is not an image.Image", "href", href)
	}
	return img
}

// ImageView returns the host view loaded for href, or nil.
func (d *Drawable) ImageView(href string) loader.View {
	if st, ok := d.images[href]; ok {
		return st.result.View
	}
	return nil
}

// LoadersChanged requests the failed images again on the next Render.
func (d *Drawable) LoadersChanged(kind loader.Kind) {
	if d.closed || kind != loader.Image {
		return
	}
	for href, st := range d.images {
		if st.failed {
			delete(d.images, href)
			d.dirty = true
		}
	}
}

// Icon returns the parsed document, or nil.
func (d *Drawable) Icon() *svgicon.SvgIcon { return d.icon }

// Close releases the drawing. Pending loads are dropped.
func (d *Drawable) Close() {
	d.icon, d.validated, d.img = nil, nil, nil
	d.dirty, d.closed = false, true
	clear(d.images)
}
