package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"domainwatch/backend/internal/match"
	"domainwatch/backend/internal/scoring"
)

const reloadDebounce = 250 * time.Millisecond

// Reload rebuilds the scanner from the watchlist file, the stored terms and
// the substitution table, then swaps it in. Scans already running keep the
// scanner they started with.
func (s *Server) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	maxDistance := s.maxEditDistance
	substitutionsPath := s.substitutionsPath
	if s.watchlistPath != "" {
		wl, err := scoring.LoadWatchlist(s.watchlistPath)
		if err != nil {
			return fmt.Errorf("load watchlist: %w", err)
		}
		if err := scoring.SyncWatchlistTerms(s.db, wl.Terms); err != nil {
			return err
		}
		if maxDistance == 0 {
			maxDistance = wl.MaxEditDistance
		}
		if substitutionsPath == "" {
			substitutionsPath = wl.Substitutions
		}
	}

	stored, err := scoring.LoadTermsFromStore(s.db)
	if err != nil {
		return err
	}
	terms := scoring.MergeTerms(s.baseTerms, stored)

	scanner := scoring.NewScanner(terms, scoring.Options{
		MaxEditDistance: maxDistance,
		Suffixes:        s.suffixes.Suffixes,
		Substitutions:   match.LoadSubstitutionsOrDefault(substitutionsPath),
		CacheSize:       s.cacheSize,
	})
	s.scanner.Store(scanner)
	s.activeSubstitutions = substitutionsPath

	logrus.WithFields(logrus.Fields{
		"terms":             len(scanner.Targets()),
		"max_edit_distance": scanner.MaxEditDistance(),
		"substitutions":     scanner.SubstitutionCount(),
	}).Info("scanner ready")
	return nil
}

// currentScanner returns the live scanner.
func (s *Server) currentScanner() *scoring.Scanner {
	return s.scanner.Load()
}

// configWatcher triggers a reload when one of the watched files changes.
type configWatcher struct {
	fw   *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// watchConfig watches the given files. Editors often replace a file instead
// of writing it in place, so the parent directories are watched and events
// are filtered by name.
func watchConfig(paths []string, onChange func()) (*configWatcher, error) {
	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	if len(files) == 0 {
		return nil, errors.New("no config files to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w := &configWatcher{fw: fw, done: make(chan struct{})}
	go w.loop(files, onChange)
	return w, nil
}

func (w *configWatcher) loop(files map[string]struct{}, onChange func()) {
	var timer *time.Timer
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			name, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ok := files[name]; !ok {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logrus.WithField("file", name).Debug("config change detected")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, onChange)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("config watcher")
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (w *configWatcher) Close() error {
	if w == nil {
		return nil
	}
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
