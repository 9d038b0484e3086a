package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"domainwatch/backend/internal/feed"
	"domainwatch/backend/internal/report"
	"domainwatch/backend/internal/scoring"
)

const progressInterval = 10000

var (
	flagInput   string
	flagOutput  string
	flagFormat  string
	flagWorkers int
	flagVerbose bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a domain feed and write a text report",
	Long: "Reads domains from an NDJSON ({\"domain\": ...}), CSV or plain text feed, or a zip\n" +
		"holding one, scans them on a worker pool and writes one report block per domain.",
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVarP(&flagInput, "input", "i", "", "domain feed to scan (required)")
	f.StringVarP(&flagOutput, "output", "o", "results.txt", "report file, - for stdout")
	f.StringVar(&flagFormat, "format", "auto", "feed format: auto, ndjson, csv, text")
	f.IntVar(&flagWorkers, "workers", 0, "worker count (default: CPU count clamped to [2, 12])")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "print a colored verdict line per flagged domain")
	_ = scanCmd.MarkFlagRequired("input")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	format, err := feed.ParseFormat(flagFormat)
	if err != nil {
		return err
	}
	scanner, err := buildScanner(ctx)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if flagOutput != "-" {
		if dir := filepath.Dir(flagOutput); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}
		file, err := os.Create(flagOutput)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer file.Close()
		out = file
	}

	console := report.NewConsole(os.Stderr)
	var verbose *report.Console
	if flagVerbose {
		verbose = console
	}

	start := time.Now()
	summary, err := scanFeed(ctx, scanner, scanOptions{
		Input:   flagInput,
		Format:  format,
		Workers: flagWorkers,
	}, report.NewTextWriter(out), verbose)
	if err != nil {
		return err
	}

	console.Summary(summary)
	logrus.WithFields(logrus.Fields{
		"domains":  summary.Total,
		"flagged":  summary.Flagged(),
		"duration": time.Since(start).Round(time.Millisecond),
		"output":   flagOutput,
	}).Info("scan finished")
	return nil
}

type scanOptions struct {
	Input   string
	Format  feed.Format
	Workers int
}

// scanFeed streams the feed through a worker pool sharing scanner and writes
// every result to w in completion order. flagged, when non-nil, also gets a
// console line for each domain with matches.
func scanFeed(ctx context.Context, scanner *scoring.Scanner, opts scanOptions, w *report.TextWriter, flagged *report.Console) (*report.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := opts.Workers
	if workers <= 0 {
		workers = scoring.DetermineWorkerCount()
	}
	logrus.WithFields(logrus.Fields{
		"input":   opts.Input,
		"workers": workers,
	}).Info("scanning feed")

	domains := make(chan string, workers*4)
	readErr := make(chan error, 1)
	go func() {
		defer close(domains)
		_, err := feed.Ingest(feed.IngestOptions{
			Path:    opts.Input,
			Format:  opts.Format,
			Context: ctx,
			Handle: func(e feed.Entry) error {
				select {
				case domains <- e.Domain:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
		readErr <- err
	}()

	summary := report.NewSummary()
	var writeErr error
	for res := range scoring.ScanAll(ctx, scanner, domains, workers) {
		if err := w.Write(res.Result); err != nil {
			writeErr = fmt.Errorf("write report: %w", err)
			cancel()
			break
		}
		summary.Add(res.Result)
		if flagged != nil && len(res.Matches) > 0 {
			flagged.Result(res.Result)
		}
		if summary.Total%progressInterval == 0 {
			logrus.WithFields(logrus.Fields{
				"scanned": summary.Total,
				"flagged": summary.Flagged(),
			}).Info("scan progress")
		}
	}
	if writeErr != nil {
		return summary, writeErr
	}

	if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
		return summary, fmt.Errorf("read feed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}
