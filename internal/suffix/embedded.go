package suffix

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Embedded answers suffix queries from the list compiled into
// golang.org/x/net/publicsuffix. It needs no network access. Unlike Set it
// applies wildcard and exception rules, and an unlisted TLD counts as a suffix.
type Embedded struct{}

// Contains reports whether suffix is exactly a public suffix.
func (Embedded) Contains(suffix string) bool {
	suffix = strings.Trim(strings.ToLower(strings.TrimSpace(suffix)), ".")
	if suffix == "" {
		return false
	}
	ps, _ := publicsuffix.PublicSuffix(suffix)
	return ps == suffix
}
