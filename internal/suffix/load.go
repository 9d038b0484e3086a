package suffix

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"domainwatch/backend/internal/match"
)

// Where a loaded suffix set came from.
const (
	OriginCache      = "cache"
	OriginRemote     = "remote"
	OriginStaleCache = "stale-cache"
	OriginEmbedded   = "embedded"
	OriginEmpty      = "empty"
)

// Loaded is the outcome of Load.
type Loaded struct {
	Suffixes  match.SuffixSet
	Origin    string
	Rules     int
	FetchedAt time.Time
}

// Load resolves the suffix set: a fresh cache entry, then a download (which
// refreshes the cache), then a stale cache entry, then an empty set. It never
// fails; every fallback is logged.
func Load(ctx context.Context, cfg Config) Loaded {
	cfg = cfg.withDefaults()
	if strings.EqualFold(cfg.Source, SourceEmbedded) {
		logrus.Info("using embedded public suffix list")
		return Loaded{Suffixes: Embedded{}, Origin: OriginEmbedded}
	}

	var (
		cache  *Cache
		cached Entry
		hit    bool
	)
	if path := strings.TrimSpace(cfg.CachePath); path != "" {
		var err error
		cache, err = OpenCache(path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("open suffix cache")
		} else {
			defer cache.Close()
			cached, hit, err = cache.Load()
			if err != nil {
				logrus.WithError(err).WithField("path", path).Warn("read suffix cache")
				hit = false
			}
		}
	}

	if hit && cached.Fresh(cfg.CacheTTL, time.Now()) {
		set, err := parseBody(cached.Body)
		if err == nil {
			logLoaded(OriginCache, set.Len(), cached.FetchedAt)
			return Loaded{Suffixes: set, Origin: OriginCache, Rules: set.Len(), FetchedAt: cached.FetchedAt}
		}
		logrus.WithError(err).Warn("cached suffix list unusable")
	}

	body, err := NewFetcher(cfg).Fetch(ctx)
	if err == nil {
		set, perr := parseBody(body)
		if perr == nil {
			now := time.Now().UTC()
			if cache != nil {
				if serr := cache.Store(body, now); serr != nil {
					logrus.WithError(serr).Warn("write suffix cache")
				}
			}
			logLoaded(OriginRemote, set.Len(), now)
			return Loaded{Suffixes: set, Origin: OriginRemote, Rules: set.Len(), FetchedAt: now}
		}
		err = perr
	}
	logrus.WithError(err).WithField("url", cfg.URL).Warn("download public suffix list")

	if hit {
		if set, perr := parseBody(cached.Body); perr == nil {
			logLoaded(OriginStaleCache, set.Len(), cached.FetchedAt)
			return Loaded{Suffixes: set, Origin: OriginStaleCache, Rules: set.Len(), FetchedAt: cached.FetchedAt}
		}
	}

	logrus.Warn("no public suffix list available; falling back to last-label suffixes")
	return Loaded{Suffixes: NewSet(nil), Origin: OriginEmpty}
}

// Refresh downloads the list and stores it in the cache regardless of age.
func Refresh(ctx context.Context, cfg Config) (int, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.CachePath) == "" {
		return 0, fmt.Errorf("refresh suffix list: cache path is empty")
	}
	body, err := NewFetcher(cfg).Fetch(ctx)
	if err != nil {
		return 0, err
	}
	set, err := parseBody(body)
	if err != nil {
		return 0, err
	}
	cache, err := OpenCache(cfg.CachePath)
	if err != nil {
		return 0, err
	}
	defer cache.Close()
	if err := cache.Store(body, time.Now()); err != nil {
		return 0, fmt.Errorf("write suffix cache: %w", err)
	}
	return set.Len(), nil
}

func parseBody(body []byte) (*Set, error) {
	set, err := Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, ErrEmptyList
	}
	return set, nil
}

func logLoaded(origin string, rules int, fetchedAt time.Time) {
	logrus.WithFields(logrus.Fields{
		"origin":     origin,
		"rules":      rules,
		"fetched_at": fetchedAt.Format(time.RFC3339),
	}).Info("public suffix list loaded")
}
