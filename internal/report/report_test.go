package report

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"domainwatch/backend/internal/scoring"
)

func TestTextWriterLayout(t *testing.T) {
	var buf bytes.Buffer
	w := NewTextWriter(&buf)

	require.NoError(t, w.Write(scoring.Result{
		Domain: "arnazon-deals.com",
		Matches: []scoring.Match{{
			Target:      "amazon",
			Description: "Similar to arnazon (Levenshtein distance: 2)",
			Confidence:  1 - 2.0/7.0,
			Method:      scoring.MethodLevenshtein,
		}},
	}))
	require.NoError(t, w.Write(scoring.Result{Domain: "example.org"}))

	want := "\nScanning domain: arnazon-deals.com\n" +
		strings.Repeat("-", 50) + "\n" +
		"Potential matches found:\n" +
		"- Target term: amazon\n" +
		"  Description: Similar to arnazon (Levenshtein distance: 2)\n" +
		"  Confidence: 71.43%\n" +
		"\nScanning domain: example.org\n" +
		strings.Repeat("-", 50) + "\n" +
		"No suspicious patterns found.\n"
	assert.Equal(t, want, buf.String())
}

func TestTextWriterConcurrentBlocksStayWhole(t *testing.T) {
	var buf bytes.Buffer
	w := NewTextWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Write(scoring.Result{Domain: "example.org"})
		}()
	}
	wg.Wait()

	block := "\nScanning domain: example.org\n" + strings.Repeat("-", 50) + "\nNo suspicious patterns found.\n"
	assert.Equal(t, strings.Repeat(block, 50), buf.String())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "100.00%", Percent(1))
	assert.Equal(t, "90.00%", Percent(0.9))
	assert.Equal(t, "0.00%", Percent(0))
}

func TestSummaryCounts(t *testing.T) {
	s := NewSummary()
	s.Add(scoring.Result{Domain: "a.com", Matches: []scoring.Match{{Target: "bank", Confidence: 1, Method: scoring.MethodDirect}}})
	s.Add(scoring.Result{Domain: "b.com", Matches: []scoring.Match{{Target: "bank", Confidence: 0.6, Method: scoring.MethodLevenshtein}}})
	v := s.Add(scoring.Result{Domain: "c.com"})

	assert.Equal(t, scoring.RecommendationClean, v.Recommendation)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Alert)
	assert.Equal(t, 1, s.Review)
	assert.Equal(t, 1, s.Clean)
	assert.Equal(t, 2, s.Flagged())
	assert.Equal(t, 2, s.Targets["bank"])
}

func TestConsoleWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Result(scoring.Result{Domain: "example.org"})
	c.Result(scoring.Result{
		Domain:  "secure-bank.com",
		Matches: []scoring.Match{{Target: "bank", Description: "Direct match in label: bank", Confidence: 1, Method: scoring.MethodDirect}},
	})

	s := NewSummary()
	s.Add(scoring.Result{Domain: "example.org"})
	c.Summary(s)

	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "[CLEAN ] example.org\n")
	assert.Contains(t, out, "[ALERT ] secure-bank.com -> bank (direct, 100.00%)\n")
	assert.Contains(t, out, "Direct match in label: bank")
	assert.Contains(t, out, "clean:  1")
}
