// Package collections provides generic data structures.
package collections

import (
	"iter"
	"maps"
	"slices"
)

// Set is a set of comparable values.
type Set[T comparable] map[T]struct{}

// NewSet creates a set holding vals.
func NewSet[T comparable](vals ...T) Set[T] {
	s := make(Set[T], len(vals))
	s.Add(vals...)
	return s
}

// Add inserts vals.
func (s Set[T]) Add(vals ...T) {
	for _, v := range vals {
		s[v] = struct{}{}
	}
}

// Remove deletes vals.
func (s Set[T]) Remove(vals ...T) {
	for _, v := range vals {
		delete(s, v)
	}
}

// Contains reports whether v is in the set.
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

// Insert adds v and reports whether it was absent.
func (s Set[T]) Insert(v T) bool {
	if s.Contains(v) {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Iter returns an iterator over the members in no particular order.
func (s Set[T]) Iter() iter.Seq[T] {
	return maps.Keys(s)
}

// Members returns the members as a slice in no particular order.
func (s Set[T]) Members() []T {
	return slices.Collect(s.Iter())
}
