package suffix

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainwatch/backend/internal/match"
)

const sampleList = `// ===BEGIN ICANN DOMAINS===
// comment line

com
uk
co.uk
*.ck
!www.ck
公司.cn
cn
net  trailing notes are ignored
`

func TestParse(t *testing.T) {
	set, err := Parse(strings.NewReader(sampleList))
	require.NoError(t, err)

	assert.Equal(t, 8, set.Len())
	assert.True(t, set.Contains("com"))
	assert.True(t, set.Contains("CO.UK."))
	assert.True(t, set.Contains("net"))
	assert.True(t, set.Contains("*.ck"))
	assert.False(t, set.Contains("foo.ck"))
	assert.False(t, set.Contains("// comment line"))
	assert.False(t, set.Contains(""))
	assert.True(t, set.Contains("公司.cn"))
	assert.True(t, set.Contains("xn--55qx5d.cn"))
}

func TestLongestSuffix(t *testing.T) {
	set := NewSet([]string{"com", "uk", "co.uk"})

	tests := []struct {
		labels []string
		want   int
		ok     bool
	}{
		{[]string{"foo", "bar", "co", "uk"}, 2, true},
		{[]string{"foo", "uk"}, 1, true},
		{[]string{"secure", "bank", "com"}, 1, true},
		{[]string{"co", "uk"}, 2, true},
		{[]string{"example", "zz"}, 0, false},
		{[]string{"notcom"}, 0, false},
		{nil, 0, false},
	}
	for _, tc := range tests {
		n, ok := set.LongestSuffix(tc.labels)
		assert.Equal(t, tc.want, n, "%v", tc.labels)
		assert.Equal(t, tc.ok, ok, "%v", tc.labels)
	}

	var empty *Set
	n, ok := empty.LongestSuffix([]string{"com"})
	assert.Zero(t, n)
	assert.False(t, ok)
	assert.False(t, empty.Contains("com"))
}

func TestSetDrivesSplitter(t *testing.T) {
	splitter := match.NewSplitter(NewSet([]string{"com", "co.uk"}))
	tokens, suffix := splitter.ExtractDomainParts("foo.bar.co.uk")
	assert.Equal(t, []string{"foo", "bar"}, tokens)
	assert.Equal(t, "co.uk", suffix)

	tokens, suffix = splitter.ExtractDomainParts("foo-bar.com")
	assert.Equal(t, []string{"foo", "bar"}, tokens)
	assert.Equal(t, "com", suffix)
}

func TestEmbedded(t *testing.T) {
	var e Embedded
	assert.True(t, e.Contains("com"))
	assert.True(t, e.Contains("co.uk"))
	assert.False(t, e.Contains("example.com"))
	assert.False(t, e.Contains(""))

	tokens, suffix := match.NewSplitter(e).ExtractDomainParts("login.secure-bank.co.uk")
	assert.Equal(t, []string{"login", "secure", "bank"}, tokens)
	assert.Equal(t, "co.uk", suffix)
}

func TestLoadFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sampleList))
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, CachePath: filepath.Join(t.TempDir(), "psl.db"), CacheTTL: time.Hour}

	first := Load(context.Background(), cfg)
	assert.Equal(t, OriginRemote, first.Origin)
	assert.Equal(t, 8, first.Rules)
	assert.True(t, first.Suffixes.Contains("co.uk"))

	second := Load(context.Background(), cfg)
	assert.Equal(t, OriginCache, second.Origin)
	assert.EqualValues(t, 1, hits.Load())
}

func TestLoadFallsBackToStaleCache(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "psl.db")
	cache, err := OpenCache(cachePath)
	require.NoError(t, err)
	require.NoError(t, cache.Store([]byte("com\nco.uk\n"), time.Now().Add(-48*time.Hour)))
	require.NoError(t, cache.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	loaded := Load(context.Background(), Config{URL: srv.URL, CachePath: cachePath, CacheTTL: time.Hour})
	assert.Equal(t, OriginStaleCache, loaded.Origin)
	assert.Equal(t, 2, loaded.Rules)
	assert.True(t, loaded.Suffixes.Contains("co.uk"))
}

func TestLoadDegradesToEmptySet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("// only comments\n"))
	}))
	defer srv.Close()

	loaded := Load(context.Background(), Config{URL: srv.URL})
	assert.Equal(t, OriginEmpty, loaded.Origin)
	assert.False(t, loaded.Suffixes.Contains("com"))

	tokens, suffix := match.NewSplitter(loaded.Suffixes).ExtractDomainParts("secure-bank.co.uk")
	assert.Equal(t, []string{"secure", "bank", "co"}, tokens)
	assert.Equal(t, "uk", suffix)
}

func TestLoadEmbeddedSource(t *testing.T) {
	loaded := Load(context.Background(), Config{Source: SourceEmbedded})
	assert.Equal(t, OriginEmbedded, loaded.Origin)
	assert.True(t, loaded.Suffixes.Contains("com"))
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("com\nnet\n"))
	}))
	defer srv.Close()

	cachePath := filepath.Join(t.TempDir(), "psl.db")
	n, err := Refresh(context.Background(), Config{URL: srv.URL, CachePath: cachePath})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cache, err := OpenCache(cachePath)
	require.NoError(t, err)
	defer cache.Close()
	entry, ok, err := cache.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "com\nnet\n", string(entry.Body))
	assert.True(t, entry.Fresh(time.Hour, time.Now()))

	_, err = Refresh(context.Background(), Config{URL: srv.URL})
	assert.Error(t, err)
}

func TestFetchRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(Config{URL: srv.URL}).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
