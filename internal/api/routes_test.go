package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainwatch/backend/internal/scoring"
	"domainwatch/backend/internal/suffix"
)

type testServer struct {
	server    *Server
	router    *gin.Engine
	watchlist string
}

func newTestServer(t *testing.T, terms ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	watchlist := filepath.Join(dir, "watchlist.yaml")
	require.NoError(t, os.WriteFile(watchlist, []byte("terms:\n  - bank\n  - amazon\n"), 0o644))

	server, err := NewServer(Config{
		DBPath:        filepath.Join(dir, "test.db"),
		WatchlistPath: watchlist,
		Terms:         terms,
		Workers:       2,
		Suffixes: suffix.Loaded{
			Suffixes: suffix.NewSet([]string{"com", "net", "org", "uk", "co.uk"}),
			Origin:   "test",
			Rules:    5,
		},
		SilentDB: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	router, err := server.Router()
	require.NoError(t, err)
	return &testServer{server: server, router: router, watchlist: watchlist}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndConfig(t *testing.T) {
	ts := newTestServer(t, "paypal")

	rec := ts.do(t, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[map[string]any](t, rec)
	assert.Equal(t, []any{"amazon", "bank", "paypal"}, cfg["terms"])
	assert.Equal(t, "test", cfg["suffix_origin"])
	assert.EqualValues(t, scoring.DefaultMaxEditDistance, cfg["max_edit_distance"])
}

func TestScanPersistsResults(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scan", ScanRequest{Domains: []string{
		"https://secure-bank-login.com/login",
		"arnazon-deals.com",
		"example.org",
		"   ",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ScanResponse](t, rec)
	require.Equal(t, 3, resp.Total)

	assert.Equal(t, "secure-bank-login.com", resp.Items[0].Domain)
	assert.Equal(t, scoring.RecommendationAlert, resp.Items[0].Recommendation)
	assert.Equal(t, []string{"secure", "bank", "login"}, resp.Items[0].Tokens)
	assert.Equal(t, "com", resp.Items[0].Suffix)

	assert.Equal(t, scoring.RecommendationReview, resp.Items[1].Recommendation)
	assert.Equal(t, "levenshtein", resp.Items[1].TopMethod)
	assert.InDelta(t, 0.7143, resp.Items[1].Confidence, 1e-4)

	assert.Equal(t, scoring.RecommendationClean, resp.Items[2].Recommendation)
	assert.Empty(t, resp.Items[2].Matches)

	rec = ts.do(t, http.MethodGet, "/api/results?recommendation=alert", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[ResultsResponse](t, rec)
	require.EqualValues(t, 1, results.Total)
	assert.Equal(t, "bank", results.Items[0].TopTarget)
	require.Len(t, results.Items[0].Matches, 1)
	assert.Equal(t, "Direct match in label: bank", results.Items[0].Matches[0].Description)

	rec = ts.do(t, http.MethodGet, "/api/results?sort=confidence_asc", nil)
	results = decode[ResultsResponse](t, rec)
	require.EqualValues(t, 3, results.Total)
	assert.Equal(t, "example.org", results.Items[0].Domain)
}

func TestScanWithoutPersist(t *testing.T) {
	ts := newTestServer(t)
	persist := false

	rec := ts.do(t, http.MethodPost, "/api/scan", ScanRequest{Domains: []string{"bank.com"}, Persist: &persist})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/results", nil)
	assert.EqualValues(t, 0, decode[ResultsResponse](t, rec).Total)
}

func TestScanValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scan", ScanRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	many := make([]string, maxSyncDomains+1)
	for i := range many {
		many[i] = fmt.Sprintf("d%d.com", i)
	}
	rec = ts.do(t, http.MethodPost, "/api/scan", ScanRequest{Domains: many})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestTermsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/terms", TermsRequest{Terms: []string{"PayPal", " "}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/terms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	terms := decode[TermsResponse](t, rec)
	assert.Equal(t, []string{"amazon", "bank", "paypal"}, terms.Active)
	require.Len(t, terms.Items, 3)

	rec = ts.do(t, http.MethodPost, "/api/scan", ScanRequest{Domains: []string{"paypa1-login.com"}})
	scan := decode[ScanResponse](t, rec)
	require.Len(t, scan.Items, 1)
	assert.Equal(t, "paypal", scan.Items[0].TopTarget)
	assert.Equal(t, "substitution", scan.Items[0].TopMethod)

	rec = ts.do(t, http.MethodDelete, "/api/terms/bank", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/terms/PayPal", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"amazon", "bank"}, ts.server.currentScanner().Targets())

	rec = ts.do(t, http.MethodDelete, "/api/terms/paypal", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/terms", TermsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAccentedWatchlistTerm(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, os.WriteFile(ts.watchlist, []byte("terms: [Bücher, bank]\n"), 0o644))
	require.NoError(t, ts.server.Reload())
	assert.Equal(t, []string{"bank", "bucher"}, ts.server.currentScanner().Targets())

	rec := ts.do(t, http.MethodDelete, "/api/terms/B%C3%BCcher", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/api/terms/bucher", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestReloadPicksUpWatchlistChanges(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, os.WriteFile(ts.watchlist, []byte("terms: [github]\nmax_edit_distance: 1\n"), 0o644))

	require.NoError(t, ts.server.Reload())
	scanner := ts.server.currentScanner()
	assert.Equal(t, []string{"github"}, scanner.Targets())
	assert.Equal(t, 1, scanner.MaxEditDistance())
}

func TestWatchConfigTriggersOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watchlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("terms: [bank]\n"), 0o644))

	fired := make(chan struct{}, 1)
	w, err := watchConfig([]string{path}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("terms: [bank, paypal]\n"), 0o644))

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("expected reload callback")
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatchConfigRequiresFiles(t *testing.T) {
	_, err := watchConfig([]string{"", " "}, func() {})
	assert.Error(t, err)
}

func uploadFeed(t *testing.T, ts *testServer, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("batch_name", "nightly"))
	require.NoError(t, mw.WriteField("owner_name", "secops"))
	part, err := mw.CreateFormFile("domains", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadAndEvaluate(t *testing.T) {
	ts := newTestServer(t)

	feedBody := strings.Join([]string{
		`{"domain": "secure-bank-login.com"}`,
		`{"domain": "example.org"}`,
		`{"domain": "SECURE-BANK-LOGIN.COM"}`,
		`not json`,
		`{"domain": "arnazon.co.uk"}`,
	}, "\n")
	rec := uploadFeed(t, ts, "domains.ndjson", feedBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upload := decode[UploadResponse](t, rec)
	assert.Equal(t, 4, upload.RowCount)
	assert.Equal(t, 3, upload.UniqueDomains)
	assert.Equal(t, 1, upload.DuplicateRows)
	assert.Equal(t, "ndjson", upload.Format)

	rec = ts.do(t, http.MethodPost, "/api/evaluate", EvaluateRequest{BatchID: upload.BatchID})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[StartEvaluationResponse](t, rec)
	assert.EqualValues(t, 3, started.Total)
	assert.NotEmpty(t, started.JobID)

	require.Eventually(t, func() bool {
		status := decode[EvaluateStatusResponse](t, ts.do(t, http.MethodGet, "/api/evaluate/status", nil))
		return !status.Running && status.State == EventComplete
	}, 10*time.Second, 20*time.Millisecond)

	status := decode[EvaluateStatusResponse](t, ts.do(t, http.MethodGet, "/api/evaluate/status", nil))
	assert.Equal(t, 3, status.Processed)
	assert.Equal(t, 2, status.Flagged)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/batches/%d/results", upload.BatchID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[ResultsResponse](t, rec).Total)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/batches/%d", upload.BatchID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[BatchDTO](t, rec)
	assert.Equal(t, 3, batch.ProcessedDomains)
	assert.NotNil(t, batch.LastScannedAt)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/requests/%d/status", started.RequestID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	request := decode[BatchRequestDTO](t, rec)
	assert.Equal(t, "completed", request.Status)
	assert.NotNil(t, request.FinishedAt)

	rec = ts.do(t, http.MethodGet, "/api/batches", nil)
	assert.EqualValues(t, 1, decode[BatchesResponse](t, rec).Total)

	rec = ts.do(t, http.MethodGet, "/api/export.csv?batch_id="+fmt.Sprint(upload.BatchID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "domain,suffix,recommendation"))
	assert.True(t, strings.HasPrefix(lines[1], "arnazon.co.uk,co.uk,REVIEW"))

	rec = ts.do(t, http.MethodGet, "/api/export.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ResultDTO](t, rec), 3)
}

func TestEvaluateErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/evaluate", EvaluateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/evaluate", EvaluateRequest{BatchID: 42})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/evaluate/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/batches/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/batches/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/results?batch_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := uploadFeed(t, ts, "empty.txt", "# nothing here\n\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
