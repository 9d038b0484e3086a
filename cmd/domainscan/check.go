package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"domainwatch/backend/internal/feed"
	"domainwatch/backend/internal/report"
	"domainwatch/backend/internal/scoring"
)

var flagJSON bool

var checkCmd = &cobra.Command{
	Use:   "check <domain>...",
	Short: "Scan individual domains and print the verdicts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	scanner, err := buildScanner(cmd.Context())
	if err != nil {
		return err
	}

	results := make([]scoring.Result, 0, len(args))
	for _, arg := range args {
		domain := feed.CleanDomain(arg)
		if domain == "" {
			return fmt.Errorf("%q is not a domain", arg)
		}
		results = append(results, scanner.Scan(domain))
	}

	if flagJSON {
		type checked struct {
			scoring.Result
			Verdict scoring.Verdict `json:"verdict"`
		}
		out := make([]checked, 0, len(results))
		for _, res := range results {
			out = append(out, checked{Result: res, Verdict: scoring.Summarize(res.Matches)})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	console := report.NewConsole(os.Stdout)
	summary := report.NewSummary()
	for _, res := range results {
		console.Result(res)
		summary.Add(res)
	}
	if len(results) > 1 {
		console.Summary(summary)
	}
	return nil
}
