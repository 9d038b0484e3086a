package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"domainwatch/backend/internal/api"
	"domainwatch/backend/internal/suffix"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("load .env")
	}
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			logrus.Fatalf("invalid LOG_LEVEL %q: %v", level, err)
		}
		logrus.SetLevel(parsed)
	}

	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	dataDir := filepath.Join(baseDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	pslCfg := suffix.Config{
		URL:       strings.TrimSpace(os.Getenv("PSL_URL")),
		CachePath: filepath.Join(dataDir, "psl.bolt"),
		Source:    strings.TrimSpace(os.Getenv("PSL_SOURCE")),
	}
	if v := strings.TrimSpace(os.Getenv("PSL_CACHE_PATH")); v != "" {
		pslCfg.CachePath = v
	}
	if d, ok := envDuration("PSL_CACHE_TTL"); ok {
		pslCfg.CacheTTL = d
	}
	if d, ok := envDuration("PSL_TIMEOUT"); ok {
		pslCfg.Timeout = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := api.Config{
		DBPath:            filepath.Join(dataDir, "domainwatch.db"),
		WatchlistPath:     filepath.Join(baseDir, "config", "watchlist.yaml"),
		SubstitutionsPath: strings.TrimSpace(os.Getenv("SUBSTITUTIONS_PATH")),
		MaxEditDistance:   envInt("MAX_EDIT_DISTANCE", 0),
		CacheSize:         envInt("SCAN_CACHE_SIZE", 0),
		Workers:           envInt("SCAN_WORKERS", 0),
		Suffixes:          suffix.Load(ctx, pslCfg),
		AllowedOrigins: []string{
			"http://localhost:1000",
			"http://127.0.0.1:1000",
		},
		SilentDB:    true,
		WatchConfig: !strings.EqualFold(strings.TrimSpace(os.Getenv("WATCH_CONFIG")), "false"),
	}
	if override := strings.TrimSpace(os.Getenv("DOMAINWATCH_DB_PATH")); override != "" {
		cfg.DBPath = override
	}
	if override, ok := os.LookupEnv("WATCHLIST_PATH"); ok {
		cfg.WatchlistPath = strings.TrimSpace(override)
	}
	if cfg.WatchlistPath != "" {
		if _, err := os.Stat(cfg.WatchlistPath); err != nil {
			logrus.WithError(err).WithField("path", cfg.WatchlistPath).Warn("watchlist file unavailable; using stored terms only")
			cfg.WatchlistPath = ""
		}
	}
	if terms := strings.TrimSpace(os.Getenv("WATCH_TERMS")); terms != "" {
		cfg.Terms = strings.Split(terms, ",")
	}
	if origins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); origins != "" {
		cfg.AllowedOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logrus.WithError(err).Warn("close server")
		}
	}()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "2000"
	}
	httpServer := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("shutdown http server")
		}
	}()

	logrus.Infof("starting domainwatch backend on :%s", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Errorf("server exited: %v", err)
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField(key, v).Warn("ignoring non-integer value")
		return fallback
	}
	return parsed
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.WithField(key, v).Warn("ignoring invalid duration")
		return 0, false
	}
	return d, true
}
