package match

import (
	"sort"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// maxVariantFanout stops substitution at a position once the variants of
	// the remaining suffix exceed this many entries.
	maxVariantFanout = 1000
	// maxVariantGrowth is how many code points longer than the input a
	// substituted variant may become.
	maxVariantGrowth = 3
)

// VariantSet is a set of look-alike spellings. Sets returned by an Expander
// are shared through its cache and must not be modified.
type VariantSet map[string]struct{}

// Contains reports whether v is in the set.
func (s VariantSet) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Intersects reports whether s and other share at least one member.
func (s VariantSet) Intersects(other VariantSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for v := range small {
		if _, ok := large[v]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the members in lexical order.
func (s VariantSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Expander generates bounded substitution variants for normalized text.
type Expander struct {
	table SubstitutionTable
	cache *lru.Cache[string, VariantSet]
}

// NewExpander returns an Expander over table. A nil table yields identity sets.
func NewExpander(table SubstitutionTable, cacheSize int) *Expander {
	return &Expander{
		table: table,
		cache: newCache[string, VariantSet](cacheSize),
	}
}

// Variants returns every spelling of text reachable by replacing characters
// with their substitutes, the original spelling included.
func (e *Expander) Variants(text string) VariantSet {
	if cached, ok := e.cache.Get(text); ok {
		return cached
	}
	out := e.expand(text)
	e.cache.Add(text, out)
	return out
}

func (e *Expander) expand(text string) VariantSet {
	if text == "" {
		return VariantSet{"": {}}
	}
	_, size := utf8.DecodeRuneInString(text)
	head := text[:size]
	rest := e.Variants(text[size:])

	subs := e.table[head]
	if len(rest) > maxVariantFanout || len(subs) == 0 {
		out := make(VariantSet, len(rest))
		for r := range rest {
			out[head+r] = struct{}{}
		}
		return out
	}

	limit := utf8.RuneCountInString(text) + maxVariantGrowth
	out := make(VariantSet, len(rest)*(len(subs)+1))
	emit := func(s string) {
		for r := range rest {
			candidate := s + r
			if utf8.RuneCountInString(candidate) <= limit {
				out[candidate] = struct{}{}
			}
		}
	}
	emit(head)
	for sub := range subs {
		emit(sub)
	}
	return out
}
