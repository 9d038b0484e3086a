package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Request statuses recorded on BatchRequest rows.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Term{}, &Domain{}, &ScanResult{}, &Batch{}, &BatchRequest{}, &DomainBatch{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDomain inserts or updates the domain record.
func (d *Database) SaveDomain(domain *Domain) error {
	if domain == nil {
		return errors.New("domain is nil")
	}
	domain.Domain = strings.TrimSpace(domain.Domain)
	domain.DomainNormalized = normalizeDomainKey(domain.Domain)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain_normalized"}},
		DoUpdates: clause.AssignmentColumns([]string{"domain", "suffix", "tokens_json", "updated_at"}),
	}).Create(domain).Error
}

// SaveScanResult inserts a scan result or replaces the previous one for the same domain.
func (d *Database) SaveScanResult(r *ScanResult) error {
	if r == nil {
		return errors.New("scan result is nil")
	}
	r.Domain = strings.TrimSpace(r.Domain)
	r.DomainNormalized = normalizeDomainKey(r.Domain)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain_normalized"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"domain",
			"suffix",
			"recommendation",
			"confidence",
			"top_target",
			"top_method",
			"match_count",
			"matches_json",
			"processing_time_ms",
			"updated_at",
		}),
	}).Create(r).Error
}

// GetScanResult fetches the stored result for a domain.
func (d *Database) GetScanResult(domain string) (*ScanResult, error) {
	var row ScanResult
	if err := d.gorm.Where("domain_normalized = ?", normalizeDomainKey(domain)).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ClearScanResults removes previously stored results (used before a full rescan).
func (d *Database) ClearScanResults() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&ScanResult{}).Error
}

// CountDomains returns the domain count.
func (d *Database) CountDomains() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Domain{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListDomains returns a paged set of domains ordered by ID.
func (d *Database) ListDomains(offset, limit int) ([]Domain, int64, error) {
	var domains []Domain
	var total int64
	if err := d.gorm.Model(&Domain{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	q := d.gorm.Model(&Domain{}).Order("id ASC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	if err := q.Find(&domains).Error; err != nil {
		return nil, 0, err
	}
	return domains, total, nil
}

// ListSuffixes returns the distinct public suffixes seen across stored domains.
func (d *Database) ListSuffixes() ([]string, error) {
	var suffixes []string
	if err := d.gorm.Model(&Domain{}).
		Where("suffix <> ''").
		Distinct("suffix").
		Order("suffix ASC").
		Pluck("suffix", &suffixes).Error; err != nil {
		return nil, err
	}
	return suffixes, nil
}

// ScanResultQuery encapsulates filters and pagination for listing scan results.
type ScanResultQuery struct {
	Query          string
	Target         string
	Method         string
	Suffix         string
	Recommendation string
	MinConfidence  float64
	Sort           string
	Offset         int
	Limit          int
	BatchID        uint
}

// ListScanResults returns paginated scan results applying optional filters.
func (d *Database) ListScanResults(opts ScanResultQuery) ([]ScanResult, int64, error) {
	var total int64
	base := d.gorm.Model(&ScanResult{})
	if opts.BatchID > 0 {
		base = base.Where("domain_normalized IN (SELECT domain_normalized FROM domain_batches WHERE batch_id = ?)", opts.BatchID)
	}
	if opts.Query != "" {
		like := fmt.Sprintf("%%%s%%", opts.Query)
		base = base.Where("domain LIKE ? OR top_target LIKE ?", like, like)
	}
	if target := strings.TrimSpace(opts.Target); target != "" {
		base = base.Where("top_target = ?", strings.ToLower(target))
	}
	if method := strings.TrimSpace(opts.Method); method != "" {
		base = base.Where("top_method = ?", strings.ToLower(method))
	}
	if suffix := strings.Trim(strings.TrimSpace(opts.Suffix), "."); suffix != "" {
		base = base.Where("suffix = ?", strings.ToLower(suffix))
	}
	if rec := strings.TrimSpace(opts.Recommendation); rec != "" {
		base = base.Where("recommendation = ?", strings.ToUpper(rec))
	}
	if opts.MinConfidence > 0 {
		base = base.Where("confidence >= ?", opts.MinConfidence)
	}

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	queryBuilder := base.Order(orderForSort(opts.Sort)).Offset(opts.Offset)
	if opts.Limit > 0 {
		queryBuilder = queryBuilder.Limit(opts.Limit)
	}

	var rows []ScanResult
	if err := queryBuilder.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "domain_asc":
		return "scan_results.domain ASC"
	case "domain_desc":
		return "scan_results.domain DESC"
	case "confidence_desc":
		return "scan_results.confidence DESC, scan_results.match_count DESC, scan_results.id DESC"
	case "confidence_asc":
		return "scan_results.confidence ASC, scan_results.id DESC"
	case "matches_desc":
		return "scan_results.match_count DESC, scan_results.confidence DESC, scan_results.id DESC"
	case "created_asc":
		return "scan_results.created_at ASC"
	case "created_desc":
		return "scan_results.created_at DESC"
	default:
		return "scan_results.id DESC"
	}
}

type BatchDomain struct {
	Domain           string
	DomainNormalized string
	RowIndex         int
	HasResult        bool
}

func normalizeDomainKey(value string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(value)), ".")
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"UPDATE domains SET domain_normalized = LOWER(domain) WHERE domain IS NOT NULL AND (domain_normalized IS NULL OR domain_normalized = '')",
		"UPDATE domain_batches SET domain_normalized = LOWER(domain) WHERE domain IS NOT NULL AND (domain_normalized IS NULL OR domain_normalized = '')",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_domains_domain_normalized ON domains(domain_normalized)",
		"CREATE INDEX IF NOT EXISTS idx_domain_batches_batch_domain_normalized ON domain_batches(batch_id, domain_normalized)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_scan_results_domain_normalized ON scan_results(domain_normalized)",
		"CREATE INDEX IF NOT EXISTS idx_scan_results_confidence ON scan_results(confidence)",
		"CREATE INDEX IF NOT EXISTS idx_scan_results_recommendation_target ON scan_results(recommendation, top_target)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// CreateBatch inserts a new batch record.
func (d *Database) CreateBatch(name, owner, filename, format string) (*Batch, error) {
	batch := &Batch{Name: name, Owner: owner, OriginalFilename: filename, Format: format}
	if err := d.gorm.Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

// UpdateBatchStats updates aggregate statistics for a batch.
func (d *Database) UpdateBatchStats(batchID uint, rowCount, uniqueDomains, existingDomains, duplicateRows, processed int) error {
	return d.gorm.Model(&Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"row_count":         rowCount,
			"unique_domains":    uniqueDomains,
			"existing_domains":  existingDomains,
			"duplicate_rows":    duplicateRows,
			"processed_domains": processed,
		}).Error
}

// ReplaceDomainBatch replaces all domain entries associated with a batch.
func (d *Database) ReplaceDomainBatch(batchID uint, rows []DomainBatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", batchID).Delete(&DomainBatch{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

// ExistingResultKeys returns the subset of domains that already have scan results.
func (d *Database) ExistingResultKeys(domains []string) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	if len(domains) == 0 {
		return result, nil
	}

	unique := make([]string, 0, len(domains))
	seen := make(map[string]struct{})
	for _, dom := range domains {
		key := normalizeDomainKey(dom)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}

	const chunkSize = 1000
	for i := 0; i < len(unique); i += chunkSize {
		end := min(i+chunkSize, len(unique))
		var rows []string
		if err := d.gorm.Model(&ScanResult{}).
			Where("domain_normalized IN ?", unique[i:end]).
			Pluck("domain_normalized", &rows).Error; err != nil {
			return nil, err
		}
		for _, dom := range rows {
			result[dom] = struct{}{}
		}
	}
	return result, nil
}

// CountBatchDomains returns the number of distinct domains in a batch.
func (d *Database) CountBatchDomains(batchID uint) (int, error) {
	var count int64
	if err := d.gorm.Model(&DomainBatch{}).
		Where("batch_id = ?", batchID).
		Distinct("domain_normalized").Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountBatchResults returns the number of domains in a batch that already have scan results.
func (d *Database) CountBatchResults(batchID uint) (int, error) {
	var count int64
	query := d.gorm.Table("domain_batches AS db").
		Select("COUNT(DISTINCT r.domain_normalized)").
		Joins("JOIN scan_results r ON r.domain_normalized = db.domain_normalized").
		Where("db.batch_id = ?", batchID)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListBatchDomainsForScan returns unique domains for a batch along with result status.
func (d *Database) ListBatchDomainsForScan(batchID uint, offset, limit int) ([]BatchDomain, error) {
	var rows []BatchDomain
	query := `
		SELECT MIN(db.domain) AS domain,
		       db.domain_normalized AS domain_normalized,
		       MIN(db.row_index) AS row_index,
		       CASE WHEN SUM(CASE WHEN r.id IS NULL THEN 0 ELSE 1 END) > 0 THEN 1 ELSE 0 END AS has_result
		FROM domain_batches db
		LEFT JOIN scan_results r ON r.domain_normalized = db.domain_normalized
		WHERE db.batch_id = ?
		GROUP BY db.domain_normalized
		ORDER BY MIN(db.row_index)
		LIMIT ? OFFSET ?`
	if err := d.gorm.Raw(query, batchID, limit, offset).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ScannedDomainsForBatch returns the normalized domains already scanned for the batch.
func (d *Database) ScannedDomainsForBatch(batchID uint) ([]string, error) {
	var rows []string
	query := `
		SELECT DISTINCT r.domain_normalized
		FROM scan_results r
		JOIN domain_batches db ON db.domain_normalized = r.domain_normalized
		WHERE db.batch_id = ?`
	if err := d.gorm.Raw(query, batchID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateBatchRequest records a new scan request for a batch.
func (d *Database) CreateBatchRequest(batchID uint, requestType, status, jobID string) (*BatchRequest, error) {
	request := &BatchRequest{
		BatchID:   batchID,
		Type:      requestType,
		Status:    status,
		JobID:     jobID,
		StartedAt: time.Now(),
	}
	if err := d.gorm.Create(request).Error; err != nil {
		return nil, err
	}
	return request, nil
}

// UpdateBatchRequest updates the status and timestamps of a batch request.
func (d *Database) UpdateBatchRequest(requestID uint, status string) error {
	updates := map[string]any{"status": status}
	if status != StatusRunning {
		now := time.Now()
		updates["finished_at"] = &now
	}
	return d.gorm.Model(&BatchRequest{}).Where("id = ?", requestID).Updates(updates).Error
}

// UpdateBatchProcessingInfo refreshes processed counts and timestamp for a batch.
func (d *Database) UpdateBatchProcessingInfo(batchID uint) error {
	processed, err := d.CountBatchResults(batchID)
	if err != nil {
		return err
	}
	now := time.Now()
	return d.gorm.Model(&Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]any{
			"processed_domains": processed,
			"last_scanned_at":   &now,
		}).Error
}

// ListBatches returns batches ordered by creation time.
func (d *Database) ListBatches(offset, limit int) ([]Batch, int64, error) {
	var total int64
	if err := d.gorm.Model(&Batch{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := d.gorm.Model(&Batch{}).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	var batches []Batch
	if err := query.Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// GetBatch retrieves a batch by ID.
func (d *Database) GetBatch(batchID uint) (*Batch, error) {
	var batch Batch
	if err := d.gorm.First(&batch, batchID).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchRequest fetches a batch request record by ID.
func (d *Database) GetBatchRequest(requestID uint) (*BatchRequest, error) {
	var request BatchRequest
	if err := d.gorm.First(&request, requestID).Error; err != nil {
		return nil, err
	}
	return &request, nil
}
