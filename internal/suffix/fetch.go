package suffix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the canonical location of the public suffix list.
const DefaultURL = "https://publicsuffix.org/list/public_suffix_list.dat"

const (
	SourceRemote   = "remote"
	SourceEmbedded = "embedded"
)

// maxListBytes caps the download; the real list is a few hundred KiB.
const maxListBytes = 16 << 20

// ErrEmptyList is returned when a downloaded or cached list holds no rules.
var ErrEmptyList = errors.New("suffix list contains no rules")

// Config drives where the suffix list comes from and how long it is cached.
type Config struct {
	URL       string
	Timeout   time.Duration
	CachePath string
	CacheTTL  time.Duration
	// Source is SourceRemote (default) or SourceEmbedded.
	Source string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if strings.TrimSpace(c.Source) == "" {
		c.Source = SourceRemote
	}
	return c
}

// Fetcher downloads the raw suffix list over HTTP.
type Fetcher struct {
	httpClient *http.Client
	url        string
}

// NewFetcher constructs a Fetcher from cfg, applying defaults.
func NewFetcher(cfg Config) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		url:        cfg.URL,
	}
}

// Fetch returns the raw list body.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("suffix fetcher is nil")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch suffix list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch suffix list: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("read suffix list body: %w", err)
	}
	return body, nil
}
