package match

import "strings"

// SuffixSet answers whether a dot-joined run of labels is a public suffix.
type SuffixSet interface {
	Contains(suffix string) bool
}

// longestSuffixer is implemented by suffix sets that resolve the longest
// matching trailing run in a single lookup. It returns the number of labels.
type longestSuffixer interface {
	LongestSuffix(labels []string) (int, bool)
}

// Splitter breaks fully-qualified domain names into atomic tokens.
type Splitter struct {
	suffixes SuffixSet
}

// NewSplitter returns a Splitter backed by suffixes. A nil set behaves as empty.
func NewSplitter(suffixes SuffixSet) *Splitter {
	return &Splitter{suffixes: suffixes}
}

// ExtractDomainParts strips the longest matching public suffix from fqdn and
// splits the remaining labels on hyphens. When no suffix matches, the last
// label is treated as the suffix.
func (s *Splitter) ExtractDomainParts(fqdn string) ([]string, string) {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(fqdn)), ".")
	labels := strings.Split(host, ".")

	n := s.suffixLabels(labels)
	if n == 0 {
		n = 1
	}
	suffix := strings.Join(labels[len(labels)-n:], ".")
	return splitLabels(labels[:len(labels)-n]), suffix
}

// SplitDomain splits fqdn on dots and hyphens without suffix awareness.
func (s *Splitter) SplitDomain(fqdn string) []string {
	return splitLabels(strings.Split(fqdn, "."))
}

func (s *Splitter) suffixLabels(labels []string) int {
	if s == nil || s.suffixes == nil {
		return 0
	}
	if fast, ok := s.suffixes.(longestSuffixer); ok {
		if n, found := fast.LongestSuffix(labels); found {
			return n
		}
		return 0
	}
	for i := range labels {
		if s.suffixes.Contains(strings.Join(labels[i:], ".")) {
			return len(labels) - i
		}
	}
	return 0
}

// splitLabels splits each label on '-' and drops empty tokens. Punycode
// labels are kept whole: their hyphens belong to the encoding.
func splitLabels(labels []string) []string {
	tokens := make([]string, 0, len(labels))
	for _, label := range labels {
		if hasACEPrefix(label) {
			tokens = append(tokens, label)
			continue
		}
		for _, part := range strings.Split(label, "-") {
			if part != "" {
				tokens = append(tokens, part)
			}
		}
	}
	return tokens
}
