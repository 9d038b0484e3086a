package scoring

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"domainwatch/backend/internal/match"
	"domainwatch/backend/internal/store"
)

// Watchlist is the on-disk description of what to watch for.
type Watchlist struct {
	Terms           []string `yaml:"terms"`
	MaxEditDistance int      `yaml:"max_edit_distance"`
	// Substitutions is a path to a JSON substitution table. Relative paths
	// resolve against the watchlist file's directory.
	Substitutions string `yaml:"substitutions"`
}

// LoadWatchlist reads a YAML watchlist file.
func LoadWatchlist(path string) (Watchlist, error) {
	var wl Watchlist
	if strings.TrimSpace(path) == "" {
		return wl, errors.New("watchlist path is empty")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return wl, fmt.Errorf("read watchlist: %w", err)
	}
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return wl, fmt.Errorf("unmarshal watchlist: %w", err)
	}
	if wl.Substitutions != "" && !filepath.IsAbs(wl.Substitutions) {
		wl.Substitutions = filepath.Join(filepath.Dir(path), wl.Substitutions)
	}
	wl.Terms = MergeTerms(wl.Terms)
	return wl, nil
}

// MergeTerms lower-cases, trims and de-duplicates the union of the given lists.
// Comma-separated entries are split.
func MergeTerms(lists ...[]string) []string {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, entry := range list {
			for _, term := range strings.Split(entry, ",") {
				term = strings.ToLower(strings.TrimSpace(term))
				if term != "" {
					set[term] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for term := range set {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

// LoadTermsFromStore returns the normalized terms persisted in db.
func LoadTermsFromStore(db *store.Database) ([]string, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	rows, err := db.ListTerms()
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	terms := make([]string, 0, len(rows))
	for _, row := range rows {
		terms = append(terms, row.Normalized)
	}
	return MergeTerms(terms), nil
}

// SyncWatchlistTerms replaces the watchlist-sourced terms in db with terms,
// keyed by the same normalized form the scanner matches against.
func SyncWatchlistTerms(db *store.Database, terms []string) error {
	if db == nil {
		return errors.New("db is nil")
	}
	normalizer := match.NewNormalizer(0)
	seen := make(map[string]struct{})
	rows := make([]store.Term, 0, len(terms))
	for _, term := range MergeTerms(terms) {
		normalized := normalizer.Normalize(term)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		rows = append(rows, store.Term{Normalized: normalized, Term: term})
	}
	if err := db.ReplaceTerms(store.SourceWatchlist, rows); err != nil {
		return fmt.Errorf("replace watchlist terms: %w", err)
	}
	return nil
}
