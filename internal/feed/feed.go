// Package feed streams domains out of uploaded or on-disk feeds.
package feed

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"domainwatch/backend/internal/match"
)

// Format identifies a feed encoding.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
	FormatText   Format = "text"
)

const progressEvery = 500

// Entry is one domain read from a feed.
type Entry struct {
	Domain string
	Raw    string
	Line   int
}

// IngestOptions configures a feed read. Either Path or Reader must be set.
type IngestOptions struct {
	Path     string
	Reader   io.Reader
	Format   Format
	Handle   func(Entry) error
	Progress func(count int)
	Context  context.Context
}

// ParseFormat maps a user supplied name onto a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return FormatAuto, nil
	case "ndjson", "jsonl", "json":
		return FormatNDJSON, nil
	case "csv":
		return FormatCSV, nil
	case "text", "txt", "plain":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown feed format %q", name)
}

// FormatForName guesses the format from a file name's extension.
func FormatForName(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ndjson", ".jsonl", ".json":
		return FormatNDJSON
	case ".csv":
		return FormatCSV
	case ".txt", ".lst":
		return FormatText
	}
	return FormatAuto
}

// Ingest reads every domain from the feed and hands it to opts.Handle. It
// returns the number of entries handled. A Handle error stops the read.
func Ingest(opts IngestOptions) (int, error) {
	if opts.Handle == nil {
		return 0, errors.New("handle func is required")
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	r := opts.Reader
	name := opts.Path
	if r == nil {
		if opts.Path == "" {
			return 0, errors.New("path is required")
		}
		opened, member, closer, err := openFeed(opts.Path)
		if err != nil {
			return 0, err
		}
		defer closer()
		r, name = opened, member
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = FormatForName(name)
	}
	br := bufio.NewReader(r)
	if format == FormatAuto {
		format = sniffFormat(br)
	}

	count := 0
	emit := func(raw string, line int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		domain := CleanDomain(raw)
		if domain == "" {
			return nil
		}
		if err := opts.Handle(Entry{Domain: domain, Raw: raw, Line: line}); err != nil {
			return err
		}
		count++
		if opts.Progress != nil && count%progressEvery == 0 {
			opts.Progress(count)
		}
		return nil
	}

	var err error
	switch format {
	case FormatNDJSON:
		err = readNDJSON(br, emit)
	case FormatCSV:
		err = readCSV(br, emit)
	default:
		err = readText(br, emit)
	}
	return count, err
}

// Read collects every entry of the feed at path.
func Read(path string, format Format) ([]Entry, error) {
	var entries []Entry
	_, err := Ingest(IngestOptions{
		Path:   path,
		Format: format,
		Handle: func(e Entry) error {
			entries = append(entries, e)
			return nil
		},
	})
	return entries, err
}

// CleanDomain reduces a raw feed value to a scannable host name.
func CleanDomain(raw string) string {
	host := match.CleanHost(raw)
	if trimmed := strings.TrimPrefix(host, "www."); trimmed != host && strings.Contains(trimmed, ".") {
		host = trimmed
	}
	return host
}

// DetectDomainColumn returns the index of a header cell naming the domain
// column, or -1 when the record does not look like a header.
func DetectDomainColumn(record []string) int {
	for idx, value := range record {
		normalized := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(value, "\ufeff")))
		switch normalized {
		case "domain", "domains", "fqdn", "url", "hostname", "host":
			return idx
		}
	}
	return -1
}

type ndjsonRecord struct {
	Domain string `json:"domain"`
}

func readNDJSON(r *bufio.Reader, emit func(string, int) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if text == "" {
			continue
		}
		var rec ndjsonRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			logrus.WithError(err).WithField("line", line).Warn("skip malformed feed line")
			continue
		}
		if err := emit(rec.Domain, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ndjson: %w", err)
	}
	return nil
}

func readCSV(r *bufio.Reader, emit func(string, int) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	domainCol := -1
	headerProcessed := false
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv: %w", err)
		}
		line++
		if len(record) == 0 {
			continue
		}
		if !headerProcessed {
			headerProcessed = true
			domainCol = DetectDomainColumn(record)
			if domainCol >= 0 {
				continue
			}
			domainCol = 0
		}
		col := domainCol
		if col >= len(record) {
			col = 0
		}
		if err := emit(record[col], line); err != nil {
			return err
		}
	}
}

func readText(r *bufio.Reader, emit func(string, int) error) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := emit(text, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read text feed: %w", err)
	}
	return nil
}

// sniffFormat inspects the first non-blank line without consuming it.
func sniffFormat(r *bufio.Reader) Format {
	peek, _ := r.Peek(4096)
	for _, line := range bytes.Split(peek, []byte("\n")) {
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("\ufeff")))
		if len(line) == 0 {
			continue
		}
		switch {
		case line[0] == '{':
			return FormatNDJSON
		case bytes.ContainsRune(line, ','):
			return FormatCSV
		default:
			return FormatText
		}
	}
	return FormatText
}

// openFeed opens either a raw feed file or a ZIP containing one. The
// returned name is the member the format is guessed from.
func openFeed(path string) (io.Reader, string, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", nil, err
	}
	if info.IsDir() {
		return nil, "", nil, fmt.Errorf("%s is a directory", path)
	}
	if strings.ToLower(filepath.Ext(path)) == ".zip" {
		return openFromZip(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", nil, err
	}
	return f, path, func() { _ = f.Close() }, nil
}

func openFromZip(path string) (io.Reader, string, func(), error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, "", nil, err
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if FormatForName(f.Name) == FormatAuto && filepath.Ext(f.Name) != "" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			_ = zr.Close()
			return nil, "", nil, err
		}
		closer := func() {
			_ = rc.Close()
			_ = zr.Close()
		}
		return rc, f.Name, closer, nil
	}
	_ = zr.Close()
	return nil, "", nil, fmt.Errorf("no domain feed found in %s", path)
}
