package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "domainwatch.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTermsLifecycle(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.UpsertTerms([]Term{
		{Normalized: "Bank", Source: SourceWatchlist},
		{Normalized: "paypal", Term: "PayPal", Source: SourceWatchlist},
		{Normalized: "  "},
	}))
	require.NoError(t, db.UpsertTerms([]Term{{Normalized: "bank", Term: "BANK", Source: SourceAPI}}))

	terms, err := db.ListTerms()
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "bank", terms[0].Normalized)
	assert.Equal(t, "BANK", terms[0].Term)
	assert.Equal(t, SourceAPI, terms[0].Source)
	assert.Equal(t, "PayPal", terms[1].Term)

	require.NoError(t, db.DeleteTerm("PAYPAL"))
	assert.ErrorIs(t, db.DeleteTerm("paypal"), gorm.ErrRecordNotFound)

	count, err := db.CountTerms()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestReplaceTermsKeepsOtherSources(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.UpsertTerms([]Term{
		{Normalized: "bank", Source: SourceWatchlist},
		{Normalized: "amazon", Source: SourceAPI},
	}))

	require.NoError(t, db.ReplaceTerms(SourceWatchlist, []Term{{Normalized: "paypal", Term: "paypal"}}))

	terms, err := db.ListTerms()
	require.NoError(t, err)
	got := make([]string, 0, len(terms))
	for _, term := range terms {
		got = append(got, term.Normalized)
	}
	assert.Equal(t, []string{"amazon", "paypal"}, got)
}

func TestSaveScanResultUpserts(t *testing.T) {
	db := openTestDB(t)

	first := &ScanResult{Domain: "Secure-Bank.com", Recommendation: "ALERT", Confidence: 1, TopTarget: "bank", TopMethod: "direct"}
	first.SetMatches([]MatchRecord{{Target: "bank", Description: "Direct match in label: bank", Confidence: 1, Method: "direct"}})
	require.NoError(t, db.SaveScanResult(first))

	second := &ScanResult{Domain: "secure-bank.com", Recommendation: "CLEAN"}
	second.SetMatches(nil)
	require.NoError(t, db.SaveScanResult(second))

	stored, err := db.GetScanResult("SECURE-BANK.COM")
	require.NoError(t, err)
	assert.Equal(t, "CLEAN", stored.Recommendation)
	assert.Equal(t, 0, stored.MatchCount)
	assert.Empty(t, stored.Matches())

	rows, total, err := db.ListScanResults(ScanResultQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, rows, 1)
}

func TestListScanResultsFilters(t *testing.T) {
	db := openTestDB(t)
	results := []ScanResult{
		{Domain: "secure-bank.com", Suffix: "com", Recommendation: "ALERT", Confidence: 1, TopTarget: "bank", TopMethod: "direct"},
		{Domain: "arnazon.net", Suffix: "net", Recommendation: "REVIEW", Confidence: 0.71, TopTarget: "amazon", TopMethod: "levenshtein"},
		{Domain: "example.org", Suffix: "org", Recommendation: "CLEAN"},
	}
	for i := range results {
		results[i].SetMatches(nil)
		require.NoError(t, db.SaveScanResult(&results[i]))
	}

	tests := []struct {
		name  string
		query ScanResultQuery
		want  []string
	}{
		{"recommendation", ScanResultQuery{Recommendation: "alert"}, []string{"secure-bank.com"}},
		{"suffix", ScanResultQuery{Suffix: ".net"}, []string{"arnazon.net"}},
		{"min confidence", ScanResultQuery{MinConfidence: 0.5, Sort: "confidence_asc"}, []string{"arnazon.net", "secure-bank.com"}},
		{"text", ScanResultQuery{Query: "amazon"}, []string{"arnazon.net"}},
		{"method", ScanResultQuery{Method: "DIRECT"}, []string{"secure-bank.com"}},
		{"sorted", ScanResultQuery{Sort: "domain_asc"}, []string{"arnazon.net", "example.org", "secure-bank.com"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rows, total, err := db.ListScanResults(tc.query)
			require.NoError(t, err)
			assert.EqualValues(t, len(tc.want), total)
			got := make([]string, 0, len(rows))
			for _, row := range rows {
				got = append(got, row.Domain)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBatchBookkeeping(t *testing.T) {
	db := openTestDB(t)

	batch, err := db.CreateBatch("feed", "secops", "feed.ndjson", "ndjson")
	require.NoError(t, err)

	for _, name := range []string{"secure-bank.com", "example.org"} {
		dom := &Domain{Domain: name, Suffix: name[len(name)-3:]}
		dom.SetTokens([]string{"x"})
		require.NoError(t, db.SaveDomain(dom))
	}
	require.NoError(t, db.ReplaceDomainBatch(batch.ID, []DomainBatch{
		{BatchID: batch.ID, Domain: "secure-bank.com", DomainNormalized: "secure-bank.com", RowIndex: 1},
		{BatchID: batch.ID, Domain: "example.org", DomainNormalized: "example.org", RowIndex: 2},
		{BatchID: batch.ID, Domain: "Example.org", DomainNormalized: "example.org", RowIndex: 3},
	}))

	total, err := db.CountBatchDomains(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	res := &ScanResult{Domain: "secure-bank.com", Recommendation: "ALERT"}
	res.SetMatches(nil)
	require.NoError(t, db.SaveScanResult(res))

	processed, err := db.CountBatchResults(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	rows, err := db.ListBatchDomainsForScan(batch.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "secure-bank.com", rows[0].DomainNormalized)
	assert.True(t, rows[0].HasResult)
	assert.False(t, rows[1].HasResult)

	scanned, err := db.ScannedDomainsForBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"secure-bank.com"}, scanned)

	existing, err := db.ExistingResultKeys([]string{"SECURE-BANK.COM", "example.org", ""})
	require.NoError(t, err)
	assert.Contains(t, existing, "secure-bank.com")
	assert.NotContains(t, existing, "example.org")

	request, err := db.CreateBatchRequest(batch.ID, "scan", StatusRunning, "job-1")
	require.NoError(t, err)
	require.NoError(t, db.UpdateBatchRequest(request.ID, StatusCompleted))
	reloaded, err := db.GetBatchRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.FinishedAt)

	require.NoError(t, db.UpdateBatchProcessingInfo(batch.ID))
	stored, err := db.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ProcessedDomains)
	assert.NotNil(t, stored.LastScannedAt)

	suffixes, err := db.ListSuffixes()
	require.NoError(t, err)
	assert.Equal(t, []string{"com", "org"}, suffixes)

	_, err = db.GetBatch(batch.ID + 100)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGetTerm(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.UpsertTerms([]Term{{Normalized: "paypal", Term: "PayPal", Source: SourceAPI}}))

	term, err := db.GetTerm(" PAYPAL ")
	require.NoError(t, err)
	assert.Equal(t, "PayPal", term.Term)
	assert.Equal(t, SourceAPI, term.Source)

	_, err = db.GetTerm("missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
