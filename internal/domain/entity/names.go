package entity

import (
	"regexp"
	"sort"
)

// namePattern matches two or more capitalised words separated by single
// horizontal whitespace characters. Line breaks end a phrase. \b is ASCII
// only, so a trailing accented letter ends a token: "John Smithé" yields
// "John Smith".
var namePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:[\t\v\f\p{Zs}][A-Z][a-z]+)+\b`)

// NameSet is a set of distinct name-like phrases. Only its size is used for ranking.
type NameSet map[string]struct{}

func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

func (s NameSet) Add(name string) {
	s[name] = struct{}{}
}

func (s NameSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

func (s NameSet) Len() int {
	return len(s)
}

// Sorted returns the names in lexical order.
func (s NameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ExtractNames returns every name-like phrase found in OCR text. It accepts
// any input and returns an empty set when nothing matches.
func ExtractNames(text string) NameSet {
	matches := namePattern.FindAllString(text, -1)
	return NewNameSet(matches...)
}
