package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"domainwatch/backend/internal/match"
	"domainwatch/backend/internal/scoring"
	"domainwatch/backend/internal/suffix"
)

var (
	flagTerms         []string
	flagWatchlist     string
	flagSubstitutions string
	flagMaxDistance   int
	flagCacheSize     int
	flagPSLSource     string
	flagPSLURL        string
	flagPSLCache      string
	flagLogLevel      string
)

var rootCmd = &cobra.Command{
	Use:           "domainscan",
	Short:         "Detect typosquats of watched brand terms in domain feeds",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		logrus.SetLevel(level)
		logrus.SetOutput(os.Stderr)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringSliceVarP(&flagTerms, "terms", "t", envList("WATCH_TERMS"), "target terms (comma separated, repeatable)")
	pf.StringVarP(&flagWatchlist, "watchlist", "w", os.Getenv("WATCHLIST_PATH"), "YAML watchlist file")
	pf.StringVar(&flagSubstitutions, "substitutions", os.Getenv("SUBSTITUTIONS_PATH"), "JSON substitution table (overrides the watchlist's)")
	pf.IntVar(&flagMaxDistance, "max-distance", 0, "Levenshtein bound; 0 uses the watchlist value or the default, negative disables")
	pf.IntVar(&flagCacheSize, "cache-size", match.DefaultCacheSize, "entries per memoization cache")
	pf.StringVar(&flagPSLSource, "psl-source", envOr("PSL_SOURCE", suffix.SourceRemote), "public suffix source: remote or embedded")
	pf.StringVar(&flagPSLURL, "psl-url", envOr("PSL_URL", suffix.DefaultURL), "public suffix list URL")
	pf.StringVar(&flagPSLCache, "psl-cache", envOr("PSL_CACHE_PATH", "data/psl.bolt"), "public suffix cache file (empty disables caching)")
	pf.StringVar(&flagLogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(suffixesCmd)
}

func pslConfig() suffix.Config {
	return suffix.Config{
		URL:       flagPSLURL,
		CachePath: strings.TrimSpace(flagPSLCache),
		Source:    flagPSLSource,
	}
}

// buildScanner assembles the scanner from flags, the watchlist file and the
// public suffix list.
func buildScanner(ctx context.Context) (*scoring.Scanner, error) {
	terms := scoring.MergeTerms(flagTerms)
	maxDistance := flagMaxDistance
	substitutions := strings.TrimSpace(flagSubstitutions)

	if path := strings.TrimSpace(flagWatchlist); path != "" {
		wl, err := scoring.LoadWatchlist(path)
		if err != nil {
			return nil, err
		}
		terms = scoring.MergeTerms(terms, wl.Terms)
		if maxDistance == 0 {
			maxDistance = wl.MaxEditDistance
		}
		if substitutions == "" {
			substitutions = wl.Substitutions
		}
	}
	if len(terms) == 0 {
		return nil, errors.New("no target terms: pass --terms or --watchlist")
	}

	loaded := suffix.Load(ctx, pslConfig())
	scanner := scoring.NewScanner(terms, scoring.Options{
		MaxEditDistance: maxDistance,
		Suffixes:        loaded.Suffixes,
		Substitutions:   match.LoadSubstitutionsOrDefault(substitutions),
		CacheSize:       flagCacheSize,
	})
	logrus.WithFields(logrus.Fields{
		"terms":             len(scanner.Targets()),
		"max_edit_distance": scanner.MaxEditDistance(),
		"suffix_origin":     loaded.Origin,
		"suffix_rules":      loaded.Rules,
	}).Info("scanner ready")
	return scanner, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
