package markdown

import (
	"strings"

	"github.com/benoitkugler/okrender/dispatch"
)

// Link is a laid out hyperlink. A link broken across lines has one
// rectangle per line.
type Link struct {
	URL, Text string
	Rects     []Rect
}

// Image is a laid out image.
type Image struct {
	URL  string
	Rect Rect
}

// Links returns the links of the page, in reading order.
func (p *Page) Links() []Link {
	var (
		out  []Link
		prev = -1 // index in out of the link continuing on the next fragment
	)
	for _, line := range p.Lines {
		for _, f := range line.Fragments {
			if f.Kind != TextFragment || f.URL == "" {
				prev = -1
				continue
			}
			r := Rect{X: f.X, Y: line.Y, W: f.Width, H: line.Height}
			if prev >= 0 && out[prev].URL == f.URL {
				out[prev].Text += f.Text
				out[prev].Rects = append(out[prev].Rects, r)
				continue
			}
			out = append(out, Link{URL: f.URL, Text: f.Text, Rects: []Rect{r}})
			prev = len(out) - 1
		}
	}
	for i := range out {
		out[i].Text = strings.TrimSpace(out[i].Text)
	}
	return out
}

// Images returns the images of the page, in reading order.
func (p *Page) Images() []Image {
	var out []Image
	for _, line := range p.Lines {
		for _, f := range line.Fragments {
			if f.Kind == ImageFragment {
				out = append(out, Image{URL: f.URL, Rect: Rect{X: f.X, Y: line.Y, W: f.Width, H: f.Height}})
			}
		}
	}
	return out
}

// CharAt returns the index, in reading order, of the character at
// (x, y), or -1.
func (p *Page) CharAt(x, y float64) int {
	for _, line := range p.Lines {
		if y < line.Y || y >= line.Y+line.Height {
			continue
		}
		for _, f := range line.Fragments {
			if f.Chars == 0 || x < f.X || x >= f.X+f.Width {
				continue
			}
			if f.Kind != TextFragment {
				return f.Char
			}
			pos := f.X
			for i, adv := range f.advances {
				if x < pos+adv {
					return f.Char + i
				}
				pos += adv
			}
		}
	}
	return -1
}

// Text returns the characters [start, end), in reading order.
func (p *Page) Text(start, end int) string {
	var sb strings.Builder
	for li, line := range p.Lines {
		if li != 0 && sb.Len() != 0 {
			sb.WriteByte('\n')
		}
		for _, f := range line.Fragments {
			if f.Kind != TextFragment || f.Char+f.Chars <= start || f.Char >= end {
				continue
			}
			lo, hi := max(start-f.Char, 0), min(end-f.Char, f.Chars)
			sb.WriteString(f.tail(lo).head(hi - lo).Text)
		}
	}
	return sb.String()
}

// Tap reports a tap at (x, y), in points relative to the page, firing
// linkClicked or imageClicked. It returns true if the tap hit a link or
// an image.
func (v *View) Tap(x, y float64) bool {
	if v.closed {
		return false
	}
	page := v.Layout()
	for _, img := range page.Images() {
		if img.Rect.Contains(x, y) {
			v.events.Fire(dispatch.Event{Name: dispatch.ImageClicked, Detail: map[string]any{"url": img.URL}})
			return true
		}
	}
	for _, link := range page.Links() {
		for _, r := range link.Rects {
			if r.Contains(x, y) {
				v.events.Fire(dispatch.Event{Name: dispatch.LinkClicked, Detail: map[string]any{"url": link.URL, "content": link.Text}})
				return true
			}
		}
	}
	return false
}

// Select sets the selection to the characters [start, end) and fires
// selectionChanged. It does nothing unless enableSelection is set.
// A negative start clears the selection.
func (v *View) Select(start, end int) bool {
	if v.closed || !v.opts.EnableSelection {
		return false
	}
	page := v.Layout()
	if start < 0 {
		start, end = -1, -1
	} else {
		start, end = min(start, page.Chars), min(max(end, start), page.Chars)
	}
	if start == v.selStart && end == v.selEnd {
		return false
	}
	v.selStart, v.selEnd = start, end
	detail := map[string]any{"start": start, "end": end, "text": ""}
	if start >= 0 {
		detail["text"] = page.Text(start, end)
	}
	v.events.Fire(dispatch.Event{Name: dispatch.SelectionChanged, Detail: detail})
	return true
}

// Selection returns the selected range, or (-1, -1).
func (v *View) Selection() (start, end int) { return v.selStart, v.selEnd }

// SelectionRects returns the highlight rectangles of the selection.
func (v *View) SelectionRects() []Rect {
	if v.selStart < 0 || v.page == nil {
		return nil
	}
	var out []Rect
	for _, line := range v.page.Lines {
		for _, f := range line.Fragments {
			if f.Kind != TextFragment || f.Char+f.Chars <= v.selStart || f.Char >= v.selEnd {
				continue
			}
			lo, hi := max(v.selStart-f.Char, 0), min(v.selEnd-f.Char, f.Chars)
			x := f.X + sum(f.advances[:lo])
			out = append(out, Rect{X: x, Y: line.Y, W: sum(f.advances[lo:hi]), H: line.Height})
		}
	}
	return out
}

// SetViewport reports the visible vertical range [top, bottom) of the
// page, firing the appear and disappear exposure notifications of the
// links and images entering or leaving it. Visibility is only tracked
// while an exposure handler is bound.
func (v *View) SetViewport(top, bottom float64) {
	if v.closed || !v.events.HasExposure() {
		return
	}
	page := v.Layout()
	visible := func(r Rect) bool { return r.Y < bottom && r.Y+r.H > top }

	links := map[linkKey]bool{}
	for _, link := range page.Links() {
		for _, r := range link.Rects {
			if visible(r) {
				links[linkKey{link.URL, link.Text}] = true
			}
		}
	}
	for key := range links {
		if !v.visibleLinks[key] {
			v.events.FireExposure(dispatch.Event{Name: dispatch.LinkAppear, Detail: map[string]any{"url": key.url, "content": key.text}})
		}
	}
	for key := range v.visibleLinks {
		if !links[key] {
			v.events.FireExposure(dispatch.Event{Name: dispatch.LinkDisappear, Detail: map[string]any{"url": key.url, "content": key.text}})
		}
	}
	v.visibleLinks = links

	images := map[string]bool{}
	for _, img := range page.Images() {
		if visible(img.Rect) {
			images[img.URL] = true
		}
	}
	for url := range images {
		if !v.visibleImages[url] {
			v.events.FireExposure(dispatch.Event{Name: dispatch.ImageAppear, Detail: map[string]any{"url": url}})
		}
	}
	for url := range v.visibleImages {
		if !images[url] {
			v.events.FireExposure(dispatch.Event{Name: dispatch.ImageDisappear, Detail: map[string]any{"url": url}})
		}
	}
	v.visibleImages = images
}
