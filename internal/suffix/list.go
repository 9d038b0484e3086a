// Package suffix loads the public suffix list used to strip registrable
// suffixes before domains are tokenized.
package suffix

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/armon/go-radix"
	"golang.org/x/net/idna"
)

// Set is an immutable public suffix set. Rules are stored verbatim, so
// wildcard and exception rules only ever match their literal text.
type Set struct {
	tree *radix.Tree
	size int
}

// NewSet builds a Set from rules such as "com" or "co.uk".
func NewSet(rules []string) *Set {
	s := &Set{tree: radix.New()}
	for _, rule := range rules {
		s.insert(rule)
	}
	return s
}

// Parse reads the PSL text format: one rule per line, blank lines and
// "//" comments ignored. Only the first whitespace-delimited field counts.
func Parse(r io.Reader) (*Set, error) {
	s := &Set{tree: radix.New()}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		s.insert(strings.Fields(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read suffix list: %w", err)
	}
	return s, nil
}

func (s *Set) insert(rule string) {
	rule = strings.Trim(strings.ToLower(strings.TrimSpace(rule)), ".")
	if rule == "" {
		return
	}
	if _, updated := s.tree.Insert(treeKey(strings.Split(rule, ".")), struct{}{}); !updated {
		s.size++
	}
	// Domains arrive in ACE form, so index IDN rules that way as well.
	if ace, err := idna.ToASCII(rule); err == nil && ace != rule {
		s.tree.Insert(treeKey(strings.Split(ace, ".")), struct{}{})
	}
}

// Contains reports whether suffix is one of the rules.
func (s *Set) Contains(suffix string) bool {
	if s == nil || s.tree == nil {
		return false
	}
	suffix = strings.Trim(strings.ToLower(strings.TrimSpace(suffix)), ".")
	if suffix == "" {
		return false
	}
	_, ok := s.tree.Get(treeKey(strings.Split(suffix, ".")))
	return ok
}

// LongestSuffix returns how many trailing labels form the longest rule.
func (s *Set) LongestSuffix(labels []string) (int, bool) {
	if s == nil || s.tree == nil || len(labels) == 0 {
		return 0, false
	}
	prefix, _, ok := s.tree.LongestPrefix(treeKey(labels))
	if !ok {
		return 0, false
	}
	return strings.Count(prefix, "."), true
}

// Len is the number of distinct rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}

// treeKey reverses labels and terminates each with a dot so that prefix
// matches stop on label boundaries: co.uk becomes "uk.co.".
func treeKey(labels []string) string {
	var b strings.Builder
	for i := len(labels) - 1; i >= 0; i-- {
		b.WriteString(labels[i])
		b.WriteByte('.')
	}
	return b.String()
}
