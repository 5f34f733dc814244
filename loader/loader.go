// Package loader implements the registry of host resource loaders that a
// rendering engine calls back when it meets a resource it cannot produce
// itself: images, fonts, inline views and replacement views.
//
// Each kind has a single slot: registering a loader replaces the previous
// one, and registering nil clears it. Image and font loads are
// asynchronous; their completions are marshalled to the UI goroutine
// through the post function given to [NewRegistry] and are dropped once
// the registry is closed.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benoitkugler/okrender/logging"
	"github.com/dustin/go-humanize"
	"github.com/go-text/typesetting/font"
)

// ErrNoLoaderRegistered is returned when the engine requests a kind of
// resource for which the host registered no loader. The engine is
// expected to render a placeholder.
var ErrNoLoaderRegistered = errors.New("no loader registered")

// errClosed is given to pending completions when the registry is closed
// before they are delivered. It never reaches a callback.
var errClosed = errors.New("loader registry closed")

// Kind identifies a loader slot.
type Kind uint8

const (
	Image Kind = iota
	Font
	InlineView
	ReplacementView
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Font:
		return "font"
	case InlineView:
		return "inline-view"
	case ReplacementView:
		return "replacement-view"
	default:
		return fmt.Sprintf("<unknown Kind %d>", uint8(k))
	}
}

// View is an opaque host view handle, returned by the host loaders.
type View any

type ImageRequest struct {
	Src                       string
	DesireWidth, DesireHeight float64 // 0 for intrinsic
	MaxWidth, MaxHeight       float64
	BorderRadius              float64
}

// ImageResult is what an image loader produces: the host view displaying
// the image and its laid out size.
type ImageResult struct {
	View          View
	Width, Height float64
}

type FontRequest struct {
	Family string
}

// FontResult holds a parsed font face, ready for measuring.
type FontResult struct {
	Family string
	Face   *font.Face
	Size   int // size of the font file, in bytes
}

type InlineViewRequest struct {
	ID                  string
	Block               bool // true for block views, which span a whole line
	MaxWidth, MaxHeight float64
}

type ReplacementViewRequest struct {
	Tag                 string // kind of the replaced markdown node
	Source              string // textual content of the node
	NodeID              int
	MaxWidth, MaxHeight float64
}

type (
	// ImageLoader starts loading req and calls done exactly once,
	// possibly from another goroutine.
	ImageLoader func(req ImageRequest, done func(ImageResult, error))
	// FontLoader starts loading the font file of a family and calls
	// done exactly once with its content, possibly from another goroutine.
	FontLoader func(req FontRequest, done func(data []byte, err error))
	// InlineViewLoader synchronously builds the view for req, or returns nil.
	InlineViewLoader func(req InlineViewRequest) View
	// ReplacementViewLoader synchronously builds the view replacing
	// a document node, or returns nil to keep the default rendering.
	ReplacementViewLoader func(req ReplacementViewRequest) View
)

// Registry stores the active loader of each kind for one renderable node.
// Registration and synchronous loads happen on the UI goroutine, async
// completions may come from anywhere.
type Registry struct {
	mu          sync.Mutex
	image       ImageLoader
	font        FontLoader
	inlineView  InlineViewLoader
	replacement ReplacementViewLoader

	post    func(func())
	closed  atomic.Bool
	pending atomic.Int32
	log     *slog.Logger
}

// NewRegistry returns an empty registry. post schedules a function on the
// UI goroutine; when nil, completions run on the calling goroutine.
func NewRegistry(post func(func()), log *slog.Logger) *Registry {
	if post == nil {
		post = func(fn func()) { fn() }
	}
	if log == nil {
		log = logging.For("loader")
	}
	return &Registry{post: post, log: log}
}

func (r *Registry) RegisterImageLoader(fn ImageLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image = fn
}

func (r *Registry) RegisterFontLoader(fn FontLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.font = fn
}

func (r *Registry) RegisterInlineViewLoader(fn InlineViewLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inlineView = fn
}

func (r *Registry) RegisterReplacementViewLoader(fn ReplacementViewLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replacement = fn
}

// Has returns true if a loader is registered for kind.
func (r *Registry) Has(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case Image:
		return r.image != nil
	case Font:
		return r.font != nil
	case InlineView:
		return r.inlineView != nil
	case ReplacementView:
		return r.replacement != nil
	}
	return false
}

// Pending returns the number of async loads not yet completed.
func (r *Registry) Pending() int { return int(r.pending.Load()) }

// Close clears every slot; completions still in flight become no-ops.
func (r *Registry) Close() {
	r.closed.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image, r.font, r.inlineView, r.replacement = nil, nil, nil, nil
}

// Closed returns true once [Registry.Close] has been called.
func (r *Registry) Closed() bool { return r.closed.Load() }

// LoadImage asks the image loader for req. cb is called once, on the UI
// goroutine, unless the registry is closed before the load completes.
func (r *Registry) LoadImage(req ImageRequest, cb func(ImageResult, error)) error {
	r.mu.Lock()
	fn := r.image
	r.mu.Unlock()
	if fn == nil || r.closed.Load() {
		return fmt.Errorf("image %q: %w", req.Src, ErrNoLoaderRegistered)
	}
	done := completion(r, func(res ImageResult, err error) {
		if err != nil {
			r.log.Warn("image load failed", "src", req.Src, "err", err)
		}
		cb(res, err)
	})
	fn(req, done)
	return nil
}

// LoadFont asks the font loader for the family. The font file returned
// by the host is parsed before cb is scheduled on the UI goroutine.
func (r *Registry) LoadFont(req FontRequest, cb func(FontResult, error)) error {
	r.mu.Lock()
	fn := r.font
	r.mu.Unlock()
	if fn == nil || r.closed.Load() {
		return fmt.Errorf("font %q: %w", req.Family, ErrNoLoaderRegistered)
	}
	deliver := completion(r, func(res FontResult, err error) {
		if err != nil {
			r.log.Warn("font load failed", "family", req.Family, "err", err)
		} else {
			r.log.Debug("font loaded", "family", req.Family, "size", humanize.Bytes(uint64(res.Size)))
		}
		cb(res, err)
	})
	fn(req, func(data []byte, err error) {
		if err != nil {
			deliver(FontResult{}, err)
			return
		}
		face, err := ParseFont(data)
		deliver(FontResult{Family: req.Family, Face: face, Size: len(data)}, err)
	})
	return nil
}

// LoadInlineView synchronously asks the inline view loader for req.
// A nil view with a nil error means the host declined.
func (r *Registry) LoadInlineView(req InlineViewRequest) (View, error) {
	r.mu.Lock()
	fn := r.inlineView
	r.mu.Unlock()
	if fn == nil || r.closed.Load() {
		return nil, fmt.Errorf("inline view %q: %w", req.ID, ErrNoLoaderRegistered)
	}
	return fn(req), nil
}

// LoadReplacementView synchronously asks the replacement view loader for req.
// A nil view with a nil error means the host declined.
func (r *Registry) LoadReplacementView(req ReplacementViewRequest) (View, error) {
	r.mu.Lock()
	fn := r.replacement
	r.mu.Unlock()
	if fn == nil || r.closed.Load() {
		return nil, fmt.Errorf("replacement view for %s: %w", req.Tag, ErrNoLoaderRegistered)
	}
	return fn(req), nil
}

// ParseFont reads a TrueType or OpenType font file.
func ParseFont(data []byte) (*font.Face, error) {
	if len(data) == 0 {
		return nil, errors.New("empty font data")
	}
	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid font data (%s): %w", humanize.Bytes(uint64(len(data))), err)
	}
	return face, nil
}

// completion wraps cb so that it runs at most once, on the UI goroutine,
// and only while the registry is alive.
func completion[T any](r *Registry, cb func(T, error)) func(T, error) {
	r.pending.Add(1)
	var once sync.Once
	return func(res T, err error) {
		once.Do(func() {
			r.post(func() {
				r.pending.Add(-1)
				if r.closed.Load() {
					r.log.Debug("dropping completion", "reason", errClosed, "err", err)
					return
				}
				cb(res, err)
			})
		})
	}
}
