package header

import (
	"strings"

	"github.com/emersion/go-message"
)

// Field is one header line as it appeared in the source.
type Field struct {
	Name  string
	Value string
}

// repeatable lists headers that may legitimately occur more than once.
// Setting one of these appends instead of replacing.
var repeatable = map[string]struct{}{
	"received":                   {},
	"x-received":                 {},
	"resent-date":                {},
	"resent-from":                {},
	"resent-sender":              {},
	"resent-to":                  {},
	"resent-cc":                  {},
	"resent-bcc":                 {},
	"resent-message-id":          {},
	"comments":                   {},
	"keywords":                   {},
	"dkim-signature":             {},
	"arc-seal":                   {},
	"arc-message-signature":      {},
	"arc-authentication-results": {},
	"authentication-results":     {},
}

// IsRepeatable reports whether name keeps every value it is set to.
func IsRepeatable(name string) bool {
	_, ok := repeatable[strings.ToLower(name)]
	return ok
}

type entry struct {
	name   string
	values []string
}

// Store is an ordered, case-insensitive collection of message headers.
// The casing and position of the first occurrence of a name are kept.
// The zero value is ready to use.
type Store struct {
	entries []*entry
	index   map[string]int
	last    *entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Set stores value under name. An existing single-valued header is replaced
// in place; a repeatable header gets value appended to its list.
func (s *Store) Set(name, value string) {
	key := strings.ToLower(name)
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[key]; ok {
		e := s.entries[i]
		if IsRepeatable(key) {
			e.values = append(e.values, value)
		} else {
			e.values = []string{value}
		}
		s.last = e
		return
	}
	e := &entry{name: name, values: []string{value}}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, e)
	s.last = e
}

// AppendContinuation joins text to the most recently set value, separated
// by a single space. It reports false when nothing has been set yet.
func (s *Store) AppendContinuation(text string) bool {
	if s.last == nil {
		return false
	}
	i := len(s.last.values) - 1
	if s.last.values[i] == "" {
		s.last.values[i] = text
	} else if text != "" {
		s.last.values[i] += " " + text
	}
	return true
}

// Get returns the first value stored under name.
func (s *Store) Get(name string) (string, bool) {
	e := s.lookup(name)
	if e == nil {
		return "", false
	}
	return e.values[0], true
}

// Values returns every value stored under name in insertion order.
func (s *Store) Values(name string) []string {
	e := s.lookup(name)
	if e == nil {
		return nil
	}
	out := make([]string, len(e.values))
	copy(out, e.values)
	return out
}

// Has reports whether name is present.
func (s *Store) Has(name string) bool {
	return s.lookup(name) != nil
}

// Remove deletes name and all of its values.
func (s *Store) Remove(name string) {
	key := strings.ToLower(name)
	i, ok := s.index[key]
	if !ok {
		return
	}
	if s.last == s.entries[i] {
		s.last = nil
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, key)
	for k, j := range s.index {
		if j > i {
			s.index[k] = j - 1
		}
	}
}

// Len returns the number of distinct header names.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns every (name, value) pair with original casing, one pair
// per value, in insertion order.
func (s *Store) Entries() []Field {
	var out []Field
	for _, e := range s.entries {
		for _, v := range e.values {
			out = append(out, Field{Name: e.name, Value: v})
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	c := New()
	for _, f := range s.Entries() {
		c.Set(f.Name, f.Value)
	}
	c.last = nil
	return c
}

// MessageHeader converts the store into a go-message header so the codec
// and address helpers can consume it.
func (s *Store) MessageHeader() message.Header {
	var h message.Header
	for _, f := range s.Entries() {
		h.Add(f.Name, f.Value)
	}
	return h
}

func (s *Store) lookup(name string) *entry {
	if s == nil {
		return nil
	}
	i, ok := s.index[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return s.entries[i]
}
