package style

import (
	"errors"
	"fmt"
	"slices"
)

// ErrRangeOutOfBounds is matched by every [RangeError].
var ErrRangeOutOfBounds = errors.New("style range out of bounds")

// RangeError reports a patch whose offsets do not satisfy
// 0 <= Start <= End <= Length.
type RangeError struct {
	Start, End, Length int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("style range [%d, %d) out of bounds for content of length %d", e.Start, e.End, e.Length)
}

func (e *RangeError) Is(target error) bool { return target == ErrRangeOutOfBounds }

// Patch overrides the style keys it specifies on the half-open
// character range [Start, End).
type Patch struct {
	Start, End int
	Style      Descriptor
}

// Covers returns true if pos is inside the patch range.
func (p Patch) Covers(pos int) bool { return p.Start <= pos && pos < p.End }

// Patches is the ordered sequence of applied patches.
// The zero value is an empty sequence ready to use.
type Patches struct {
	list []Patch
}

// Apply validates the range against the content length and appends the
// patch. An invalid range leaves the sequence unchanged.
func (ps *Patches) Apply(d Descriptor, start, end, length int) error {
	if start < 0 || start > end || end > length {
		return &RangeError{Start: start, End: end, Length: length}
	}
	ps.list = append(ps.list, Patch{Start: start, End: end, Style: d.Clone()})
	return nil
}

// Reset drops every patch.
func (ps *Patches) Reset() { ps.list = nil }

// Len returns the number of applied patches.
func (ps *Patches) Len() int { return len(ps.list) }

// All returns a copy of the patches, in application order.
func (ps *Patches) All() []Patch {
	out := make([]Patch, len(ps.list))
	for i, p := range ps.list {
		out[i] = Patch{Start: p.Start, End: p.End, Style: p.Style.Clone()}
	}
	return out
}

// At returns the effective style at pos: base, then each patch covering
// pos folded in application order with [Descriptor.Merge]. Later patches
// win only on the keys they specify.
func At(base Descriptor, patches []Patch, pos int) Descriptor {
	out := base.Clone()
	if out == nil {
		out = Descriptor{}
	}
	for _, p := range patches {
		if p.Covers(pos) {
			out = out.Merge(p.Style)
		}
	}
	return out
}

// At is a shortcut for [At] over the receiver.
func (ps *Patches) At(base Descriptor, pos int) Descriptor { return At(base, ps.list, pos) }

// Run is a maximal range of positions sharing the same set of covering patches.
type Run struct {
	Start, End int
	Style      Descriptor
}

// Runs splits [0, length) at every patch boundary and returns the runs
// with their effective style. Adjacent runs covered by the same patches
// are merged.
func Runs(base Descriptor, patches []Patch, length int) []Run {
	if length <= 0 {
		return nil
	}
	cuts := map[int]bool{0: true, length: true}
	for _, p := range patches {
		if p.Start < length {
			cuts[p.Start] = true
		}
		if p.End < length {
			cuts[p.End] = true
		}
	}
	bounds := make([]int, 0, len(cuts))
	for c := range cuts {
		bounds = append(bounds, c)
	}
	slices.Sort(bounds)

	var (
		runs    []Run
		prevSet []int
	)
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		set := covering(patches, start)
		if len(runs) > 0 && slices.Equal(set, prevSet) {
			runs[len(runs)-1].End = end
			continue
		}
		runs = append(runs, Run{Start: start, End: end, Style: At(base, patches, start)})
		prevSet = set
	}
	return runs
}

// Runs is a shortcut for [Runs] over the receiver.
func (ps *Patches) Runs(base Descriptor, length int) []Run { return Runs(base, ps.list, length) }

func covering(patches []Patch, pos int) []int {
	var out []int
	for i, p := range patches {
		if p.Covers(pos) {
			out = append(out, i)
		}
	}
	return out
}
