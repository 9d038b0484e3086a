package scoring

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"domainwatch/backend/internal/match"
)

// DefaultMaxEditDistance is the Levenshtein bound used when Options leaves it unset.
const DefaultMaxEditDistance = 2

const (
	directConfidence       = 1.0
	substitutionConfidence = 0.9
	neighborConfidence     = 1.0
)

// Method names the heuristic that produced a Match.
type Method string

const (
	MethodDirect       Method = "direct"
	MethodSubstitution Method = "substitution"
	MethodNeighbor     Method = "neighbor"
	MethodLevenshtein  Method = "levenshtein"
)

// Match is a single detection against a watched term.
type Match struct {
	Target      string  `json:"target"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Method      Method  `json:"method"`
}

// DomainDetector exposes the individual heuristics over a domain's tokens.
type DomainDetector interface {
	CheckDirectMatch(tokens []string) []Match
	CheckSubstitutions(tokens []string) []Match
	CheckNeighboringLabels(tokens []string) []Match
	CheckLevenshteinDistance(tokens []string) []Match
}

// Options configures a Scanner.
type Options struct {
	// MaxEditDistance bounds the Levenshtein stage. Zero selects
	// DefaultMaxEditDistance; a negative value disables the stage.
	MaxEditDistance int
	// Suffixes is the public suffix set. Nil behaves as an empty set.
	Suffixes match.SuffixSet
	// Substitutions is the confusable table. Nil selects match.DefaultSubstitutions.
	Substitutions match.SubstitutionTable
	// CacheSize bounds each memoization cache.
	CacheSize int
}

// Result is the full outcome of scanning one domain.
type Result struct {
	Domain  string   `json:"domain"`
	Tokens  []string `json:"tokens"`
	Suffix  string   `json:"suffix"`
	Matches []Match  `json:"matches"`
}

// Scanner checks domains against a fixed set of target terms. The target set,
// substitution table and suffix set never change after construction, and all
// caches are safe for concurrent use, so one Scanner may serve many goroutines.
type Scanner struct {
	targets        []string
	targetVariants map[string]match.VariantSet
	maxDistance    int
	substitutions  match.SubstitutionTable

	normalizer *match.Normalizer
	splitter   *match.Splitter
	expander   *match.Expander
	distances  *match.DistanceCache
}

var _ DomainDetector = (*Scanner)(nil)

// NewScanner builds a Scanner for terms. Terms are normalized, de-duplicated
// and empty entries dropped.
func NewScanner(terms []string, opts Options) *Scanner {
	table := opts.Substitutions
	if table == nil {
		table = match.DefaultSubstitutions()
	}
	maxDistance := opts.MaxEditDistance
	if maxDistance == 0 {
		maxDistance = DefaultMaxEditDistance
	}

	s := &Scanner{
		maxDistance:   maxDistance,
		substitutions: table,
		normalizer:    match.NewNormalizer(opts.CacheSize),
		splitter:      match.NewSplitter(opts.Suffixes),
		expander:      match.NewExpander(table, opts.CacheSize),
		distances:     match.NewDistanceCache(opts.CacheSize),
	}

	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		normalized := s.normalizer.Normalize(strings.TrimSpace(term))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		s.targets = append(s.targets, normalized)
	}
	sort.Strings(s.targets)

	s.targetVariants = make(map[string]match.VariantSet, len(s.targets))
	for _, target := range s.targets {
		s.targetVariants[target] = s.expander.Variants(target)
	}
	return s
}

// Scan splits fqdn and runs the heuristics in priority order. A later
// heuristic runs only when every earlier one found nothing.
func (s *Scanner) Scan(fqdn string) Result {
	tokens, suffix := s.splitter.ExtractDomainParts(fqdn)
	result := Result{
		Domain:  strings.TrimSuffix(strings.ToLower(strings.TrimSpace(fqdn)), "."),
		Tokens:  tokens,
		Suffix:  suffix,
		Matches: []Match{},
	}
	if len(tokens) == 0 || len(s.targets) == 0 {
		return result
	}

	stages := []func([]string) []Match{
		s.CheckDirectMatch,
		s.CheckSubstitutions,
		s.CheckNeighboringLabels,
		s.CheckLevenshteinDistance,
	}
	for _, stage := range stages {
		if found := stage(tokens); len(found) > 0 {
			sort.SliceStable(found, func(i, j int) bool {
				return found[i].Confidence > found[j].Confidence
			})
			result.Matches = found
			break
		}
	}
	return result
}

// ScanDomain returns the matches for fqdn ordered by descending confidence.
func (s *Scanner) ScanDomain(fqdn string) []Match {
	return s.Scan(fqdn).Matches
}

// CheckDirectMatch reports every target that is a substring of a token.
func (s *Scanner) CheckDirectMatch(tokens []string) []Match {
	var out []Match
	for _, token := range tokens {
		normalized := s.normalizer.Normalize(token)
		for _, target := range s.targets {
			if strings.Contains(normalized, target) {
				out = append(out, Match{
					Target:      target,
					Description: fmt.Sprintf("Direct match in label: %s", token),
					Confidence:  directConfidence,
					Method:      MethodDirect,
				})
			}
		}
	}
	return out
}

// CheckSubstitutions reports, per token, the first target whose variants
// overlap the token's variants.
func (s *Scanner) CheckSubstitutions(tokens []string) []Match {
	var out []Match
	for _, token := range tokens {
		variants := s.expander.Variants(s.normalizer.Normalize(token))
		for _, target := range s.targets {
			if variants.Intersects(s.targetVariants[target]) {
				out = append(out, Match{
					Target:      target,
					Description: fmt.Sprintf("Character substitution match in label: %s ↔ %s", token, target),
					Confidence:  substitutionConfidence,
					Method:      MethodSubstitution,
				})
				break
			}
		}
	}
	return out
}

// CheckNeighboringLabels joins runs of two and three adjacent tokens and
// reports targets equal to one of the joined forms.
func (s *Scanner) CheckNeighboringLabels(tokens []string) []Match {
	if len(tokens) < 2 {
		return nil
	}
	normalized := make([]string, len(tokens))
	for i, token := range tokens {
		normalized[i] = s.normalizer.Normalize(token)
	}

	var out []Match
	for _, size := range []int{2, 3} {
		for i := 0; i+size <= len(tokens); i++ {
			group := normalized[i : i+size]
			joined := [...]string{
				strings.Join(group, ""),
				strings.Join(group, "."),
				strings.Join(group, "-"),
			}
			original := strings.Join(tokens[i:i+size], ".")
			for _, target := range s.targets {
				for _, combo := range joined {
					if combo == target {
						out = append(out, Match{
							Target:      target,
							Description: fmt.Sprintf("Found in neighboring labels: %s", original),
							Confidence:  neighborConfidence,
							Method:      MethodNeighbor,
						})
						break
					}
				}
			}
		}
	}
	return out
}

// CheckLevenshteinDistance reports targets within the configured edit
// distance of a token.
func (s *Scanner) CheckLevenshteinDistance(tokens []string) []Match {
	if s.maxDistance < 0 {
		return nil
	}
	var out []Match
	for _, token := range tokens {
		normalized := s.normalizer.Normalize(token)
		for _, target := range s.targets {
			distance := s.distances.Distance(normalized, target)
			if distance > s.maxDistance {
				continue
			}
			longest := max(utf8.RuneCountInString(normalized), utf8.RuneCountInString(target))
			out = append(out, Match{
				Target:      target,
				Description: fmt.Sprintf("Similar to %s (Levenshtein distance: %d)", token, distance),
				Confidence:  1 - float64(distance)/float64(longest),
				Method:      MethodLevenshtein,
			})
		}
	}
	return out
}

// Targets returns a copy of the normalized target terms in sorted order.
func (s *Scanner) Targets() []string {
	return append([]string(nil), s.targets...)
}

// Normalize exposes the scanner's memoized normalizer.
func (s *Scanner) Normalize(text string) string {
	return s.normalizer.Normalize(text)
}

// ExtractDomainParts exposes the suffix-aware splitter.
func (s *Scanner) ExtractDomainParts(fqdn string) ([]string, string) {
	return s.splitter.ExtractDomainParts(fqdn)
}

// SplitDomain exposes the suffix-unaware splitter.
func (s *Scanner) SplitDomain(fqdn string) []string {
	return s.splitter.SplitDomain(fqdn)
}

// GenerateVariants exposes the memoized substitution expander.
func (s *Scanner) GenerateVariants(text string) match.VariantSet {
	return s.expander.Variants(text)
}

func (s *Scanner) MaxEditDistance() int {
	return s.maxDistance
}

// SubstitutionCount is the number of characters with configured substitutes.
func (s *Scanner) SubstitutionCount() int {
	return len(s.substitutions)
}
