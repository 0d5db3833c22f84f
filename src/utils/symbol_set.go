package utils

import (
	"sort"
	"strings"
)

// SymbolSet is an unordered set of case-sensitive instrument symbols.
type SymbolSet map[string]struct{}

// NewSymbolSet drops empty strings and surrounding whitespace.
func NewSymbolSet(symbols ...string) SymbolSet {
	s := make(SymbolSet, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		s[sym] = struct{}{}
	}
	return s
}

// -----------------------------------------------------------------------------

func (s SymbolSet) Contains(symbol string) bool {
	_, ok := s[symbol]
	return ok
}

func (s SymbolSet) Add(symbols ...string) {
	for _, sym := range symbols {
		if sym != "" {
			s[sym] = struct{}{}
		}
	}
}

func (s SymbolSet) Remove(symbols ...string) {
	for _, sym := range symbols {
		delete(s, sym)
	}
}

func (s SymbolSet) Len() int {
	return len(s)
}

func (s SymbolSet) Clone() SymbolSet {
	c := make(SymbolSet, len(s))
	for sym := range s {
		c[sym] = struct{}{}
	}
	return c
}

// Sorted returns the members in lexical order.
func (s SymbolSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for sym := range s {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Minus returns s - other.
func (s SymbolSet) Minus(other SymbolSet) SymbolSet {
	out := make(SymbolSet)
	for sym := range s {
		if !other.Contains(sym) {
			out[sym] = struct{}{}
		}
	}
	return out
}

func (s SymbolSet) Equal(other SymbolSet) bool {
	if len(s) != len(other) {
		return false
	}
	for sym := range s {
		if !other.Contains(sym) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// Delta is the minimal change turning one set into another.
type Delta struct {
	Added   SymbolSet
	Removed SymbolSet
}

func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff computes added = next - current and removed = current - next.
func Diff(current, next SymbolSet) Delta {
	return Delta{
		Added:   next.Minus(current),
		Removed: current.Minus(next),
	}
}
