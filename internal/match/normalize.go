package match

import (
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/idna"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultCacheSize bounds each memoization cache when no size is configured.
const DefaultCacheSize = 1024

const acePrefix = "xn--"

var (
	protocolStripper = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)

	// combiningMarks matches any rune with a non-zero canonical combining class.
	combiningMarks = runes.Predicate(func(r rune) bool {
		return norm.NFKD.PropertiesString(string(r)).CCC() != 0
	})

	foldPool = sync.Pool{
		New: func() any {
			return transform.Chain(norm.NFKD, runes.Remove(combiningMarks))
		},
	}
)

// Normalizer canonicalizes domain labels: punycode decoding, NFKD decomposition,
// combining-mark removal and lower-casing. Results are memoized per instance.
type Normalizer struct {
	cache *lru.Cache[string, string]
}

// NewNormalizer returns a Normalizer whose cache holds at most cacheSize entries.
func NewNormalizer(cacheSize int) *Normalizer {
	return &Normalizer{cache: newCache[string, string](cacheSize)}
}

// Normalize returns the canonical form of text. It never fails; any decoding
// problem degrades to a plain lower-cased copy of the input.
func (n *Normalizer) Normalize(text string) string {
	if n == nil || n.cache == nil {
		return normalizeLabel(text)
	}
	if cached, ok := n.cache.Get(text); ok {
		return cached
	}
	out := normalizeLabel(text)
	n.cache.Add(text, out)
	return out
}

func normalizeLabel(text string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = strings.ToLower(text)
		}
	}()

	decoded := text
	if hasACEPrefix(decoded) {
		if uni, err := idna.ToUnicode(strings.ToLower(decoded)); err == nil {
			decoded = uni
		}
	}

	tr := foldPool.Get().(transform.Transformer)
	folded, _, err := transform.String(tr, decoded)
	tr.Reset()
	foldPool.Put(tr)
	if err != nil {
		return strings.ToLower(text)
	}
	return strings.ToLower(folded)
}

func hasACEPrefix(label string) bool {
	return len(label) >= len(acePrefix) && strings.EqualFold(label[:len(acePrefix)], acePrefix)
}

// CleanHost reduces a raw feed entry (URL, host:port, user@host) to a bare,
// lower-cased host name suitable for scanning.
func CleanHost(input string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	lower = strings.TrimPrefix(lower, "\ufeff")
	lower = protocolStripper.ReplaceAllString(lower, "")

	// Trim query, path, fragment
	for _, sep := range []string{"/", "?", "#"} {
		if idx := strings.Index(lower, sep); idx >= 0 {
			lower = lower[:idx]
		}
	}

	// Drop credentials if present (user:pass@)
	if idx := strings.LastIndex(lower, "@"); idx >= 0 {
		lower = lower[idx+1:]
	}

	host := lower
	if idx := strings.IndexRune(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return strings.Trim(strings.TrimSpace(host), ".")
}

func newCache[K comparable, V any](size int) *lru.Cache[K, V] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for non-positive sizes.
	cache, _ := lru.New[K, V](size)
	return cache
}
