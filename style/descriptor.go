// Package style implements the descriptors used to configure and style
// renderable nodes, and the ordered range patches applied over content.
package style

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
	"gopkg.in/yaml.v3"
)

// Descriptor maps option names to values. Values are the ones a host
// object naturally decodes to: strings, numbers, booleans, nested
// descriptors and slices.
type Descriptor map[string]any

// Decode reads a descriptor from YAML or JSON text.
func Decode(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("style: invalid descriptor: %w", err)
	}
	return d, nil
}

// Clone returns a deep copy of d; nested maps are copied, other values are shared.
func (d Descriptor) Clone() Descriptor {
	if d == nil {
		return nil
	}
	out := make(Descriptor, len(d))
	for k, v := range d {
		if sub, ok := asMap(v); ok {
			v = sub.Clone()
		}
		out[k] = v
	}
	return out
}

// Merge returns the result of applying patch over d, key by key. Nested
// descriptors are merged recursively and a nil value removes the key.
// Neither d nor patch is modified.
func (d Descriptor) Merge(patch Descriptor) Descriptor {
	out := d.Clone()
	if out == nil {
		out = make(Descriptor, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		if sub, ok := asMap(v); ok {
			prev, _ := asMap(out[k])
			out[k] = prev.Merge(sub)
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the sorted keys of d.
func (d Descriptor) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sub returns the nested descriptor stored at key, or nil.
func (d Descriptor) Sub(key string) Descriptor {
	sub, _ := asMap(d[key])
	return sub
}

// String returns the string at key, or def.
func (d Descriptor) String(key, def string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return def
}

// Float returns the number at key, or def. Numeric strings are accepted.
func (d Descriptor) Float(key string, def float64) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint32:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the number at key truncated to an int, or def.
func (d Descriptor) Int(key string, def int) int {
	if _, ok := d[key]; !ok {
		return def
	}
	return int(d.Float(key, float64(def)))
}

// Bool returns the boolean at key, or def.
func (d Descriptor) Bool(key string, def bool) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Strings returns the list of strings at key. A single string is
// split on commas.
func (d Descriptor) Strings(key string) []string {
	switch v := d[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Color returns the color at key. Numbers are read as 0xAARRGGBB,
// the layout used by host platforms; strings as CSS colors.
func (d Descriptor) Color(key string) (color.NRGBA, bool) {
	switch v := d[key].(type) {
	case string:
		c, err := ParseColor(v)
		return c, err == nil
	case float64, int, int64, uint32:
		argb := uint32(d.Float(key, 0))
		return color.NRGBA{R: uint8(argb >> 16), G: uint8(argb >> 8), B: uint8(argb), A: uint8(argb >> 24)}, true
	}
	return color.NRGBA{}, false
}

// ParseColor reads a CSS color: a named color, #rgb, #rrggbb, #rrggbbaa,
// rgb(r, g, b) or rgba(r, g, b, a).
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "transparent" {
		return color.NRGBA{}, nil
	}
	if c, ok := colornames.Map[s]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:])
	}
	if strings.HasPrefix(s, "rgb") {
		return parseFunctional(s)
	}
	return color.NRGBA{}, fmt.Errorf("style: invalid color %q", s)
}

func parseHex(h string) (color.NRGBA, error) {
	if len(h) == 3 || len(h) == 4 {
		var b strings.Builder
		for _, r := range h {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		h = b.String()
	}
	if len(h) != 6 && len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("style: invalid hex color %q", h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("style: invalid hex color %q", h)
	}
	if len(h) == 6 {
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func parseFunctional(s string) (color.NRGBA, error) {
	open, end := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return color.NRGBA{}, fmt.Errorf("style: invalid color %q", s)
	}
	parts := strings.FieldsFunc(s[open+1:end], func(r rune) bool { return r == ',' || r == ' ' || r == '/' })
	if len(parts) != 3 && len(parts) != 4 {
		return color.NRGBA{}, fmt.Errorf("style: invalid color %q", s)
	}
	var out [4]uint8
	out[3] = 0xff
	for i, p := range parts {
		percent := strings.HasSuffix(p, "%")
		f, err := strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("style: invalid color %q", s)
		}
		switch {
		case percent:
			f = f / 100 * 255
		case i == 3: // alpha in [0, 1]
			f *= 255
		}
		out[i] = clamp8(f)
	}
	return color.NRGBA{R: out[0], G: out[1], B: out[2], A: out[3]}, nil
}

func clamp8(f float64) uint8 {
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f + 0.5)
}

func asMap(v any) (Descriptor, bool) {
	switch m := v.(type) {
	case Descriptor:
		return m, true
	case map[string]any:
		return Descriptor(m), true
	}
	return nil, false
}
