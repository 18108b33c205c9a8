// Package params builds a case's parameter set: the union of classification
// tags on the case and everything it references.
package params

import (
	"sort"
	"strings"

	"github.com/caseroute/backend/internal/models"
)

type Set map[string]struct{}

func FromTags(tags []string) Set {
	s := make(Set, len(tags))
	s.add(tags)
	return s
}

// Extract is pure: the same sources always yield the same set.
func Extract(src models.TagSources) Set {
	s := Set{}
	s.add(src.Case)
	for _, tags := range src.Goods {
		s.add(tags)
	}
	for _, tags := range src.Destinations {
		s.add(tags)
	}
	s.add(src.Organisation)
	return s
}

func (s Set) add(tags []string) {
	for _, t := range tags {
		t = normalize(t)
		if t == "" {
			continue
		}
		s[t] = struct{}{}
	}
}

func (s Set) Contains(tag string) bool {
	_, ok := s[normalize(tag)]
	return ok
}

// IsSubsetOf reports whether every tag of s is in other. The empty set is a
// subset of everything.
func (s Set) IsSubsetOf(other Set) bool {
	if len(s) > len(other) {
		return false
	}
	for t := range s {
		if _, ok := other[t]; !ok {
			return false
		}
	}
	return true
}

func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalize(tag string) string {
	return strings.TrimSpace(tag)
}
