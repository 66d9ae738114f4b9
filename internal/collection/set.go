// Package collection provides the small generic data structures the
// coordinator's components share: a set for eligibility/contributor
// membership and a bag for tallying digest votes during result
// aggregation. Adapted from the teacher's set.Set[T] (set/set.go) and
// utils.Bag (utils/bag.go), generalized beyond ids.ID.
package collection

import "golang.org/x/exp/maps"

// Set is a set of unique, comparable elements.
type Set[T comparable] map[T]struct{}

// NewSet returns a Set initialized with elts.
func NewSet[T comparable](elts ...T) Set[T] {
	s := make(Set[T], len(elts))
	s.Add(elts...)
	return s
}

// Add inserts elements into the set.
func (s Set[T]) Add(elts ...T) {
	for _, elt := range elts {
		s[elt] = struct{}{}
	}
}

// Contains reports whether elt is a member.
func (s Set[T]) Contains(elt T) bool {
	_, ok := s[elt]
	return ok
}

// Remove deletes elements from the set.
func (s Set[T]) Remove(elts ...T) {
	for _, elt := range elts {
		delete(s, elt)
	}
}

// Len returns the number of elements.
func (s Set[T]) Len() int {
	return len(s)
}

// List returns the elements in non-deterministic order.
func (s Set[T]) List() []T {
	return maps.Keys(s)
}
