package match

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// SubstitutionTable maps a character to the confusable strings that may stand
// in for it. Tables built by NewSubstitutionTable are symmetric.
type SubstitutionTable map[string]map[string]struct{}

// NewSubstitutionTable builds a table from raw char -> substitutes pairs and
// adds the reverse mapping for every pair. Empty substitutes are ignored.
func NewSubstitutionTable(raw map[string][]string) SubstitutionTable {
	table := make(SubstitutionTable, len(raw)*2)
	for char, subs := range raw {
		if char == "" {
			continue
		}
		if _, ok := table[char]; !ok {
			table[char] = make(map[string]struct{}, len(subs))
		}
		for _, sub := range subs {
			if sub == "" || sub == char {
				continue
			}
			table.add(char, sub)
			table.add(sub, char)
		}
	}
	return table
}

// DefaultSubstitutions is the built-in table used when no file can be loaded.
func DefaultSubstitutions() SubstitutionTable {
	return NewSubstitutionTable(map[string][]string{
		"a": {"4", "@"},
		"i": {"1", "!"},
		"o": {"0"},
		"l": {"1", "|"},
		"s": {"5", "$"},
	})
}

// LoadSubstitutions reads a JSON object of single-character keys to arrays of
// substitute strings.
func LoadSubstitutions(path string) (SubstitutionTable, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read substitutions: %w", err)
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal substitutions: %w", err)
	}
	return NewSubstitutionTable(raw), nil
}

// LoadSubstitutionsOrDefault loads path and falls back to DefaultSubstitutions
// when the file is missing or malformed.
func LoadSubstitutionsOrDefault(path string) SubstitutionTable {
	if strings.TrimSpace(path) == "" {
		logrus.Debug("no substitutions file configured; using built-in table")
		return DefaultSubstitutions()
	}
	table, err := LoadSubstitutions(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Warn("could not load substitutions file; using built-in table")
		return DefaultSubstitutions()
	}
	logrus.WithFields(logrus.Fields{
		"path":    path,
		"entries": len(table),
	}).Info("loaded character substitutions")
	return table
}

// Substitutes returns the sorted substitutes configured for char.
func (t SubstitutionTable) Substitutes(char string) []string {
	subs := t[char]
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, 0, len(subs))
	for sub := range subs {
		out = append(out, sub)
	}
	sort.Strings(out)
	return out
}

func (t SubstitutionTable) add(from, to string) {
	set, ok := t[from]
	if !ok {
		set = make(map[string]struct{})
		t[from] = set
	}
	set[to] = struct{}{}
}
