package api

import (
	"math"
	"time"

	"domainwatch/backend/internal/scoring"
	"domainwatch/backend/internal/store"
)

// ScanRequest is the body of a synchronous scan.
type ScanRequest struct {
	Domains []string `json:"domains"`
	Persist *bool    `json:"persist"`
}

// ScanResponse holds the results of a synchronous scan.
type ScanResponse struct {
	Items []ResultDTO `json:"items"`
	Total int         `json:"total"`
}

// TermsRequest adds watched terms.
type TermsRequest struct {
	Terms []string `json:"terms"`
}

// TermDTO is the API representation of a watched term.
type TermDTO struct {
	Term       string    `json:"term"`
	Normalized string    `json:"normalized"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// TermsResponse lists the stored terms and the terms the live scanner matches.
type TermsResponse struct {
	Items  []TermDTO `json:"items"`
	Active []string  `json:"active"`
}

// UploadResponse reports batch statistics after ingesting a domain feed.
type UploadResponse struct {
	BatchID         uint   `json:"batch_id"`
	BatchName       string `json:"batch_name"`
	Owner           string `json:"owner"`
	Format          string `json:"format"`
	RowCount        int    `json:"row_count"`
	UniqueDomains   int    `json:"unique_domains"`
	ExistingDomains int    `json:"existing_domains"`
	DuplicateRows   int    `json:"duplicate_rows"`
	Processed       int    `json:"processed_domains"`
	TermsCount      int    `json:"terms_count"`
}

// EvaluateRequest controls an asynchronous batch scan.
type EvaluateRequest struct {
	BatchID uint `json:"batch_id"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Resume  bool `json:"resume"`
	Force   bool `json:"force"`
	Workers int  `json:"workers"`
}

// StartEvaluationResponse describes the asynchronous scan kickoff payload.
type StartEvaluationResponse struct {
	JobID     string    `json:"job_id"`
	BatchID   uint      `json:"batch_id"`
	RequestID uint      `json:"request_id"`
	Total     int64     `json:"total"`
	StartedAt time.Time `json:"started_at"`
}

// ResultsResponse holds scan results and totals.
type ResultsResponse struct {
	Items []ResultDTO `json:"items"`
	Total int64       `json:"total"`
}

// MatchDTO is one detection inside a result.
type MatchDTO struct {
	Target      string  `json:"target"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Method      string  `json:"method"`
}

// ResultDTO is the API representation of a persisted scan result.
type ResultDTO struct {
	ID               uint       `json:"id,omitempty"`
	Domain           string     `json:"domain"`
	Suffix           string     `json:"suffix"`
	Tokens           []string   `json:"tokens,omitempty"`
	Recommendation   string     `json:"recommendation"`
	Confidence       float64    `json:"confidence"`
	TopTarget        string     `json:"top_target"`
	TopMethod        string     `json:"top_method"`
	MatchCount       int        `json:"match_count"`
	Matches          []MatchDTO `json:"matches"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	CreatedAt        time.Time  `json:"created_at"`
}

// BatchDTO represents metadata for an uploaded feed.
type BatchDTO struct {
	ID               uint       `json:"id"`
	Name             string     `json:"name"`
	Owner            string     `json:"owner"`
	OriginalFilename string     `json:"original_filename"`
	Format           string     `json:"format"`
	RowCount         int        `json:"row_count"`
	UniqueDomains    int        `json:"unique_domains"`
	ExistingDomains  int        `json:"existing_domains"`
	DuplicateRows    int        `json:"duplicate_rows"`
	ProcessedDomains int        `json:"processed_domains"`
	CreatedAt        time.Time  `json:"created_at"`
	LastScannedAt    *time.Time `json:"last_scanned_at"`
}

// BatchesResponse is the paginated response for batches.
type BatchesResponse struct {
	Items []BatchDTO `json:"items"`
	Total int64      `json:"total"`
}

// BatchRequestDTO represents scan request tracking metadata.
type BatchRequestDTO struct {
	ID         uint       `json:"id"`
	BatchID    uint       `json:"batch_id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	JobID      string     `json:"job_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// EvaluateStatusResponse describes the state of the active scan job.
type EvaluateStatusResponse struct {
	Running    bool       `json:"running"`
	JobID      string     `json:"job_id"`
	BatchID    uint       `json:"batch_id"`
	RequestID  uint       `json:"request_id"`
	State      string     `json:"state"`
	Message    string     `json:"message"`
	Processed  int        `json:"processed"`
	Flagged    int        `json:"flagged"`
	Total      int64      `json:"total"`
	LastResult *ResultDTO `json:"last_result,omitempty"`
}

// ResultModel converts a scan outcome into its persisted form.
func ResultModel(res scoring.Result, elapsed time.Duration) store.ScanResult {
	verdict := scoring.Summarize(res.Matches)
	row := store.ScanResult{
		Domain:           res.Domain,
		Suffix:           res.Suffix,
		Recommendation:   verdict.Recommendation,
		Confidence:       verdict.Confidence,
		TopTarget:        verdict.Target,
		TopMethod:        string(verdict.Method),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	records := make([]store.MatchRecord, 0, len(res.Matches))
	for _, m := range res.Matches {
		records = append(records, store.MatchRecord{
			Target:      m.Target,
			Description: m.Description,
			Confidence:  m.Confidence,
			Method:      string(m.Method),
		})
	}
	row.SetMatches(records)
	return row
}

// DomainModel converts a scan outcome into the stored domain record.
func DomainModel(res scoring.Result) *store.Domain {
	d := &store.Domain{Domain: res.Domain, Suffix: res.Suffix}
	d.SetTokens(res.Tokens)
	return d
}

// FromModel converts a store.ScanResult into the DTO representation.
func FromModel(r store.ScanResult) ResultDTO {
	records := r.Matches()
	matches := make([]MatchDTO, 0, len(records))
	for _, m := range records {
		matches = append(matches, MatchDTO{
			Target:      m.Target,
			Description: m.Description,
			Confidence:  round4(m.Confidence),
			Method:      m.Method,
		})
	}
	return ResultDTO{
		ID:               r.ID,
		Domain:           r.Domain,
		Suffix:           r.Suffix,
		Recommendation:   r.Recommendation,
		Confidence:       round4(r.Confidence),
		TopTarget:        r.TopTarget,
		TopMethod:        r.TopMethod,
		MatchCount:       r.MatchCount,
		Matches:          matches,
		ProcessingTimeMs: r.ProcessingTimeMs,
		CreatedAt:        r.CreatedAt,
	}
}

// FromScan builds a DTO straight from a scan outcome, with tokens attached.
func FromScan(res scoring.Result, elapsed time.Duration) ResultDTO {
	dto := FromModel(ResultModel(res, elapsed))
	dto.Tokens = res.Tokens
	if dto.Tokens == nil {
		dto.Tokens = []string{}
	}
	return dto
}

// TermFromModel converts a store.Term into a DTO.
func TermFromModel(t store.Term) TermDTO {
	return TermDTO{Term: t.Term, Normalized: t.Normalized, Source: t.Source, CreatedAt: t.CreatedAt}
}

// BatchFromModel converts a store.Batch into a DTO.
func BatchFromModel(b store.Batch) BatchDTO {
	return BatchDTO{
		ID:               b.ID,
		Name:             b.Name,
		Owner:            b.Owner,
		OriginalFilename: b.OriginalFilename,
		Format:           b.Format,
		RowCount:         b.RowCount,
		UniqueDomains:    b.UniqueDomains,
		ExistingDomains:  b.ExistingDomains,
		DuplicateRows:    b.DuplicateRows,
		ProcessedDomains: b.ProcessedDomains,
		CreatedAt:        b.CreatedAt,
		LastScannedAt:    b.LastScannedAt,
	}
}

// BatchRequestFromModel converts a store.BatchRequest into a DTO.
func BatchRequestFromModel(r store.BatchRequest) BatchRequestDTO {
	return BatchRequestDTO{
		ID:         r.ID,
		BatchID:    r.BatchID,
		Type:       r.Type,
		Status:     r.Status,
		JobID:      r.JobID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
