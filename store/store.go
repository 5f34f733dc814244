// Package store holds the content, base style, configuration and range
// patches of one renderable node.
package store

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/benoitkugler/okrender/style"
	"github.com/zeebo/xxh3"
)

// ParseError is returned by [Store.SetContent] when the engine rejects
// a payload. The previous content is kept.
type ParseError struct {
	Offset int // rune offset of the failure, or -1 if unknown
	Err    error
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Err)
	}
	return fmt.Sprintf("parse error: %s", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Validator checks a payload before it is accepted. A non nil error
// rejects the payload; it is wrapped in a [ParseError] unless it already is one.
type Validator func(content string) error

// Snapshot is an immutable view of a [Store], handed to the engine.
type Snapshot struct {
	Content     string
	Length      int    // in runes
	Fingerprint uint64 // xxh3 of Content
	Style       style.Descriptor
	Config      style.Descriptor
	Patches     []style.Patch
	Version     uint64 // bumped on every accepted mutation
}

// Store is not safe for concurrent use: it is only accessed from the
// UI goroutine.
type Store struct {
	validate Validator

	content     string
	length      int
	fingerprint uint64
	base        style.Descriptor
	config      style.Descriptor
	patches     style.Patches
	version     uint64
}

// New returns an empty store. validate may be nil to accept any payload.
func New(validate Validator) *Store {
	return &Store{validate: validate, fingerprint: xxh3.HashString("")}
}

// SetContent replaces the content and drops every range patch.
// On a validation failure nothing changes and a *ParseError is returned.
func (s *Store) SetContent(content string) error {
	if s.validate != nil {
		if err := s.validate(content); err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				return pe
			}
			return &ParseError{Offset: -1, Err: err}
		}
	}
	s.content = content
	s.length = utf8.RuneCountInString(content)
	s.fingerprint = xxh3.HashString(content)
	s.patches.Reset()
	s.version++
	return nil
}

// SetStyle merges d into the base style. Content and patches are kept.
func (s *Store) SetStyle(d style.Descriptor) {
	s.base = s.base.Merge(d)
	s.version++
}

// SetConfig merges d into the configuration.
func (s *Store) SetConfig(d style.Descriptor) {
	s.config = s.config.Merge(d)
	s.version++
}

// ApplyStyleInRange appends a patch over [start, end), validated
// against the current content length.
func (s *Store) ApplyStyleInRange(d style.Descriptor, start, end int) error {
	if err := s.patches.Apply(d, start, end, s.length); err != nil {
		return err
	}
	s.version++
	return nil
}

// Len returns the content length, in runes.
func (s *Store) Len() int { return s.length }

// Version returns the mutation counter.
func (s *Store) Version() uint64 { return s.version }

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Content:     s.content,
		Length:      s.length,
		Fingerprint: s.fingerprint,
		Style:       s.base.Clone(),
		Config:      s.config.Clone(),
		Patches:     s.patches.All(),
		Version:     s.version,
	}
}

// StyleAt returns the effective style at pos, base style included.
func (snap Snapshot) StyleAt(pos int) style.Descriptor {
	return style.At(snap.Style, snap.Patches, pos)
}
