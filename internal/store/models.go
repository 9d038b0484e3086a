package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Term is a watched brand or keyword. Normalized is the form the scanner matches against.
type Term struct {
	Normalized string `gorm:"primaryKey;size:255"`
	Term       string `gorm:"size:255"`
	Source     string `gorm:"size:32;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Domain represents a submitted domain and how it was tokenized.
type Domain struct {
	ID               uint   `gorm:"primaryKey"`
	Domain           string `gorm:"size:255;index"`
	DomainNormalized string `gorm:"size:255;uniqueIndex"`
	Suffix           string `gorm:"size:128;index"`
	TokensJSON       string `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SetTokens stores the token list.
func (d *Domain) SetTokens(tokens []string) {
	if tokens == nil {
		tokens = []string{}
	}
	payload, _ := json.Marshal(tokens)
	d.TokensJSON = string(payload)
}

// Tokens reads the stored token list.
func (d *Domain) Tokens() []string {
	return decodeStrings(d.TokensJSON)
}

// MatchRecord is the persisted shape of a single detection.
type MatchRecord struct {
	Target      string  `json:"target"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Method      string  `json:"method"`
}

// ScanResult is the per-domain detection outcome persisted for querying and export.
type ScanResult struct {
	ID               uint   `gorm:"primaryKey"`
	Domain           string `gorm:"size:255;index"`
	DomainNormalized string `gorm:"size:255;uniqueIndex"`
	Suffix           string `gorm:"size:128"`
	Recommendation   string `gorm:"size:16;index"`
	Confidence       float64
	TopTarget        string `gorm:"size:255;index"`
	TopMethod        string `gorm:"size:32"`
	MatchCount       int
	MatchesJSON      string `gorm:"type:text"`
	ProcessingTimeMs int64
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time
}

// SetMatches saves the match list as JSON and refreshes MatchCount.
func (r *ScanResult) SetMatches(matches []MatchRecord) {
	if matches == nil {
		matches = []MatchRecord{}
	}
	payload, _ := json.Marshal(matches)
	r.MatchesJSON = string(payload)
	r.MatchCount = len(matches)
}

// Matches returns the decoded match list.
func (r *ScanResult) Matches() []MatchRecord {
	if strings.TrimSpace(r.MatchesJSON) == "" {
		return nil
	}
	var out []MatchRecord
	if err := json.Unmarshal([]byte(r.MatchesJSON), &out); err != nil {
		return nil
	}
	return out
}

// Batch represents an uploaded domain feed.
type Batch struct {
	ID               uint   `gorm:"primaryKey"`
	Name             string `gorm:"size:128;index"`
	Owner            string `gorm:"size:128;index"`
	OriginalFilename string `gorm:"size:256"`
	Format           string `gorm:"size:16"`
	RowCount         int
	UniqueDomains    int
	ExistingDomains  int
	DuplicateRows    int
	ProcessedDomains int
	LastScannedAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// BatchRequest tracks a scan job for a batch (initial run, resume, rescan).
type BatchRequest struct {
	ID         uint   `gorm:"primaryKey"`
	BatchID    uint   `gorm:"index"`
	Type       string `gorm:"size:32"`
	Status     string `gorm:"size:32"`
	JobID      string `gorm:"size:64"`
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// DomainBatch links domains to batches (one row per domain occurrence).
type DomainBatch struct {
	ID               uint   `gorm:"primaryKey"`
	BatchID          uint   `gorm:"index"`
	Domain           string `gorm:"size:255;index"`
	DomainNormalized string `gorm:"size:255;index"`
	RowIndex         int
	CreatedAt        time.Time
}

func decodeStrings(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
