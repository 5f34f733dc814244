// Package bridge is the host facing entry point: it binds opaque host node
// handles to markdown or SVG renderables, and routes content, style,
// configuration, loaders and event bindings to them.
//
// Failed operations never panic: they are logged at warn level and
// returned as errors matching [ErrNotBound], [ErrAlreadyDestroyed],
// [ErrAlreadyBound], *store.ParseError or style.ErrRangeOutOfBounds.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benoitkugler/okrender/config"
	"github.com/benoitkugler/okrender/dispatch"
	"github.com/benoitkugler/okrender/loader"
	"github.com/benoitkugler/okrender/logging"
	"github.com/benoitkugler/okrender/markdown"
	"github.com/benoitkugler/okrender/store"
	"github.com/benoitkugler/okrender/style"
	"github.com/benoitkugler/okrender/svgdraw"
)

var (
	ErrNotBound         = errors.New("node not bound")
	ErrAlreadyDestroyed = errors.New("node already destroyed")
	ErrAlreadyBound     = errors.New("node already bound")
	errUnknownKind      = errors.New("unknown renderable kind")
)

// NodeHandle is the host reference of a node.
type NodeHandle uint64

// Kind selects the engine of a node.
type Kind uint8

const (
	Markdown Kind = iota
	SVG
)

func (k Kind) String() string {
	switch k {
	case Markdown:
		return "markdown"
	case SVG:
		return "svg"
	default:
		return fmt.Sprintf("<unknown Kind %d>", uint8(k))
	}
}

// Renderable is the engine side of a node.
type Renderable interface {
	// Validate checks a payload before it replaces the content.
	Validate(content string) error
	// Update is called with the state of the node after each accepted mutation.
	Update(snap store.Snapshot)
	// LoadersChanged is called after a loader of kind is registered or
	// cleared, so that unresolved resources are requested again.
	LoadersChanged(kind loader.Kind)
	// Close releases the engine resources.
	Close()
}

type node struct {
	kind    Kind
	store   *store.Store
	events  *dispatch.Dispatcher
	loaders *loader.Registry
	engine  Renderable
}

// Bridge maps node handles to their renderable. Nodes never share
// loaders, bindings or state. All methods are meant to be called from
// the UI goroutine, which drains [Bridge.Queue].
type Bridge struct {
	cfg   *config.Config
	queue *dispatch.Queue
	log   *slog.Logger

	mu        sync.RWMutex
	nodes     map[NodeHandle]*node
	destroyed map[NodeHandle]struct{}
}

// New returns an empty bridge. New nodes start with the style and
// configuration of cfg; a nil cfg means [config.Default].
func New(cfg *config.Config) *Bridge {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Bridge{
		cfg:       cfg,
		queue:     dispatch.NewQueue(),
		log:       logging.For("bridge"),
		nodes:     make(map[NodeHandle]*node),
		destroyed: make(map[NodeHandle]struct{}),
	}
}

// Queue returns the UI task queue on which events and loader
// completions are delivered.
func (b *Bridge) Queue() *dispatch.Queue { return b.queue }

// fail logs err and returns it.
func (b *Bridge) fail(op string, h NodeHandle, err error) error {
	b.log.Warn("operation failed", "op", op, "node", uint64(h), "err", err)
	return err
}

func (b *Bridge) lookup(op string, h NodeHandle) (*node, error) {
	b.mu.RLock()
	n, ok := b.nodes[h]
	b.mu.RUnlock()
	if !ok {
		return nil, b.fail(op, h, fmt.Errorf("%s on node %d: %w", op, h, ErrNotBound))
	}
	return n, nil
}

// Create binds a new renderable of the given kind to h. A destroyed
// handle may be bound again.
func (b *Bridge) Create(h NodeHandle, kind Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[h]; ok {
		return b.fail("create", h, fmt.Errorf("create node %d: %w", h, ErrAlreadyBound))
	}
	events := dispatch.New(b.queue, b.log.With("node", uint64(h)))
	loaders := loader.NewRegistry(b.queue.Post, nil)
	n := &node{kind: kind, events: events, loaders: loaders}
	switch kind {
	case Markdown:
		n.engine = markdown.New(events, loaders)
	case SVG:
		n.engine = svgdraw.New(events, loaders)
	default:
		return b.fail("create", h, fmt.Errorf("create node %d: %w (%s)", h, errUnknownKind, kind))
	}
	n.store = store.New(n.engine.Validate)
	switch kind {
	case Markdown:
		n.store.SetStyle(b.cfg.Markdown.Style)
		n.store.SetConfig(b.cfg.Markdown.Config)
	case SVG:
		n.store.SetConfig(b.cfg.SVGDescriptor())
	}
	n.engine.Update(n.store.Snapshot())
	b.nodes[h] = n
	delete(b.destroyed, h)
	b.log.Debug("node created", "node", uint64(h), "kind", kind)
	return nil
}

// SetContent replaces the document of h and drops its range styles.
// A rejected payload keeps the previous document.
func (b *Bridge) SetContent(h NodeHandle, content string) error {
	n, err := b.lookup("setContent", h)
	if err != nil {
		return err
	}
	if err := n.store.SetContent(content); err != nil {
		return b.fail("setContent", h, err)
	}
	n.engine.Update(n.store.Snapshot())
	return nil
}

// SetStyle merges d into the base style of h.
func (b *Bridge) SetStyle(h NodeHandle, d style.Descriptor) error {
	n, err := b.lookup("setStyle", h)
	if err != nil {
		return err
	}
	n.store.SetStyle(d)
	n.engine.Update(n.store.Snapshot())
	return nil
}

// SetConfig merges d into the engine configuration of h.
func (b *Bridge) SetConfig(h NodeHandle, d style.Descriptor) error {
	n, err := b.lookup("setConfig", h)
	if err != nil {
		return err
	}
	n.store.SetConfig(d)
	n.engine.Update(n.store.Snapshot())
	return nil
}

// ApplyStyleInRange overrides the keys of d on the characters [start, end)
// of the current content.
func (b *Bridge) ApplyStyleInRange(h NodeHandle, d style.Descriptor, start, end int) error {
	n, err := b.lookup("applyStyleInRange", h)
	if err != nil {
		return err
	}
	if err := n.store.ApplyStyleInRange(d, start, end); err != nil {
		return b.fail("applyStyleInRange", h, err)
	}
	n.engine.Update(n.store.Snapshot())
	return nil
}

// StyleAt returns the effective style of h at the character pos.
func (b *Bridge) StyleAt(h NodeHandle, pos int) (style.Descriptor, error) {
	n, err := b.lookup("styleAt", h)
	if err != nil {
		return nil, err
	}
	return n.store.Snapshot().StyleAt(pos), nil
}

func (b *Bridge) RegisterImageLoader(h NodeHandle, fn loader.ImageLoader) error {
	n, err := b.lookup("registerImageLoader", h)
	if err != nil {
		return err
	}
	n.loaders.RegisterImageLoader(fn)
	n.engine.LoadersChanged(loader.Image)
	return nil
}

func (b *Bridge) RegisterFontLoader(h NodeHandle, fn loader.FontLoader) error {
	n, err := b.lookup("registerFontLoader", h)
	if err != nil {
		return err
	}
	n.loaders.RegisterFontLoader(fn)
	n.engine.LoadersChanged(loader.Font)
	return nil
}

func (b *Bridge) RegisterInlineViewLoader(h NodeHandle, fn loader.InlineViewLoader) error {
	n, err := b.lookup("registerInlineViewLoader", h)
	if err != nil {
		return err
	}
	n.loaders.RegisterInlineViewLoader(fn)
	n.engine.LoadersChanged(loader.InlineView)
	return nil
}

func (b *Bridge) RegisterReplacementViewLoader(h NodeHandle, fn loader.ReplacementViewLoader) error {
	n, err := b.lookup("registerReplacementViewLoader", h)
	if err != nil {
		return err
	}
	n.loaders.RegisterReplacementViewLoader(fn)
	n.engine.LoadersChanged(loader.ReplacementView)
	return nil
}

// BindEvent replaces the handler of the event name; nil clears it.
func (b *Bridge) BindEvent(h NodeHandle, name string, fn dispatch.Handler) error {
	n, err := b.lookup("bindEvent", h)
	if err != nil {
		return err
	}
	n.events.Bind(name, fn)
	return nil
}

// BindExposure replaces the handler of the exposure name; nil clears it.
func (b *Bridge) BindExposure(h NodeHandle, name string, fn dispatch.Handler) error {
	n, err := b.lookup("bindExposure", h)
	if err != nil {
		return err
	}
	n.events.BindExposure(name, fn)
	return nil
}

// Destroy releases the renderable of h, its loaders and its bindings.
// Loads still in flight complete as no-ops.
func (b *Bridge) Destroy(h NodeHandle) error {
	b.mu.Lock()
	n, ok := b.nodes[h]
	if !ok {
		_, destroyed := b.destroyed[h]
		b.mu.Unlock()
		if destroyed {
			return b.fail("destroy", h, fmt.Errorf("destroy node %d: %w", h, ErrAlreadyDestroyed))
		}
		return b.fail("destroy", h, fmt.Errorf("destroy node %d: %w", h, ErrNotBound))
	}
	delete(b.nodes, h)
	b.destroyed[h] = struct{}{}
	b.mu.Unlock()

	n.loaders.Close()
	n.events.Close()
	n.engine.Close()
	b.log.Debug("node destroyed", "node", uint64(h), "kind", n.kind, "pendingLoads", n.loaders.Pending())
	return nil
}

// Markdown returns the markdown view bound to h, so that the host can
// lay it out, paint it and forward user input.
func (b *Bridge) Markdown(h NodeHandle) (*markdown.View, error) {
	n, err := b.lookup("markdown", h)
	if err != nil {
		return nil, err
	}
	v, ok := n.engine.(*markdown.View)
	if !ok {
		return nil, b.fail("markdown", h, fmt.Errorf("node %d is a %s node", h, n.kind))
	}
	return v, nil
}

// SVG returns the SVG drawable bound to h.
func (b *Bridge) SVG(h NodeHandle) (*svgdraw.Drawable, error) {
	n, err := b.lookup("svg", h)
	if err != nil {
		return nil, err
	}
	d, ok := n.engine.(*svgdraw.Drawable)
	if !ok {
		return nil, b.fail("svg", h, fmt.Errorf("node %d is a %s node", h, n.kind))
	}
	return d, nil
}

// Len returns the number of bound nodes.
func (b *Bridge) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}
