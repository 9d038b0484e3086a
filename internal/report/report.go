package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"domainwatch/backend/internal/scoring"
)

const ruleWidth = 50

// TextWriter renders scan results in the plain text report layout. It is safe
// for concurrent use; each result is written as one block.
type TextWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextWriter wraps w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// Write appends the block for res.
func (t *TextWriter) Write(res scoring.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\nScanning domain: %s\n", res.Domain)
	b.WriteString(strings.Repeat("-", ruleWidth))
	b.WriteString("\n")
	if len(res.Matches) == 0 {
		b.WriteString("No suspicious patterns found.\n")
	} else {
		b.WriteString("Potential matches found:\n")
		for _, m := range res.Matches {
			fmt.Fprintf(&b, "- Target term: %s\n", m.Target)
			fmt.Fprintf(&b, "  Description: %s\n", m.Description)
			fmt.Fprintf(&b, "  Confidence: %s\n", Percent(m.Confidence))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, b.String())
	return err
}

// Percent formats a [0,1] confidence with two decimals, e.g. "71.43%".
func Percent(confidence float64) string {
	return fmt.Sprintf("%.2f%%", confidence*100)
}

// Summary tallies verdicts across a run.
type Summary struct {
	mu      sync.Mutex
	Total   int
	Alert   int
	Review  int
	Clean   int
	Targets map[string]int
}

// NewSummary returns an empty Summary.
func NewSummary() *Summary {
	return &Summary{Targets: make(map[string]int)}
}

// Add records the verdict for res and returns it.
func (s *Summary) Add(res scoring.Result) scoring.Verdict {
	v := scoring.Summarize(res.Matches)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Total++
	switch v.Recommendation {
	case scoring.RecommendationAlert:
		s.Alert++
	case scoring.RecommendationReview:
		s.Review++
	default:
		s.Clean++
	}
	if v.Target != "" {
		s.Targets[v.Target]++
	}
	return v
}

// Flagged is the number of domains with at least one match.
func (s *Summary) Flagged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Alert + s.Review
}

// Console prints colored per-domain verdicts and run summaries.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	colors map[string]*color.Color
}

// NewConsole writes to w. Color is enabled only when w is a terminal.
func NewConsole(w io.Writer) *Console {
	if !isTerminal(w) {
		color.NoColor = true
	}
	return &Console{
		w: w,
		colors: map[string]*color.Color{
			scoring.RecommendationAlert:  color.New(color.FgRed, color.Bold),
			scoring.RecommendationReview: color.New(color.FgYellow),
			scoring.RecommendationClean:  color.New(color.FgGreen),
			"header":                     color.New(color.FgCyan, color.Bold),
			"dim":                        color.New(color.FgHiBlack),
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Result prints a one-line verdict for res followed by its matches.
func (c *Console) Result(res scoring.Result) {
	v := scoring.Summarize(res.Matches)
	label := c.colors[v.Recommendation].Sprintf("[%-6s]", v.Recommendation)

	var b strings.Builder
	if v.Recommendation == scoring.RecommendationClean {
		fmt.Fprintf(&b, "%s %s\n", label, res.Domain)
	} else {
		fmt.Fprintf(&b, "%s %s -> %s (%s, %s)\n", label, res.Domain, v.Target, v.Method, Percent(v.Confidence))
		for _, m := range res.Matches {
			b.WriteString(c.colors["dim"].Sprintf("         %s  %s\n", Percent(m.Confidence), m.Description))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, b.String())
}

// Summary prints the totals in s.
func (c *Console) Summary(s *Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.w, c.colors["header"].Sprint("Scan summary"))
	fmt.Fprintf(c.w, "  domains: %d\n", s.Total)
	fmt.Fprintf(c.w, "  %s %d\n", c.colors[scoring.RecommendationAlert].Sprintf("%-7s", "alert:"), s.Alert)
	fmt.Fprintf(c.w, "  %s %d\n", c.colors[scoring.RecommendationReview].Sprintf("%-7s", "review:"), s.Review)
	fmt.Fprintf(c.w, "  %s %d\n", c.colors[scoring.RecommendationClean].Sprintf("%-7s", "clean:"), s.Clean)
}
