package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"domainwatch/backend/internal/feed"
	"domainwatch/backend/internal/scoring"
	"domainwatch/backend/internal/store"
	"domainwatch/backend/internal/suffix"
)

const maxSyncDomains = 1000

// Config defines server dependencies.
type Config struct {
	DBPath            string
	WatchlistPath     string
	SubstitutionsPath string
	// Terms are watched in addition to the watchlist file and stored terms.
	Terms []string
	// MaxEditDistance overrides the watchlist value when non-zero.
	MaxEditDistance int
	CacheSize       int
	Workers         int
	Suffixes        suffix.Loaded
	AllowedOrigins  []string
	SilentDB        bool
	WatchConfig     bool
}

// Server wires HTTP handlers with persistence and scanning.
type Server struct {
	db                  *store.Database
	scanner             atomic.Pointer[scoring.Scanner]
	reloadMu            sync.Mutex
	watchlistPath       string
	substitutionsPath   string
	activeSubstitutions string
	baseTerms           []string
	maxEditDistance     int
	cacheSize           int
	workers             int
	suffixes            suffix.Loaded
	allowedOrigins      []string
	notifier            *ScanNotifier
	watcher             *configWatcher
	jobMu               sync.Mutex
	activeJob           *scanJob
}

// NewServer opens the database and builds the initial scanner.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	suffixes := cfg.Suffixes
	if suffixes.Suffixes == nil {
		suffixes = suffix.Loaded{Suffixes: suffix.NewSet(nil), Origin: suffix.OriginEmpty}
	}

	server := &Server{
		db:                db,
		watchlistPath:     strings.TrimSpace(cfg.WatchlistPath),
		substitutionsPath: strings.TrimSpace(cfg.SubstitutionsPath),
		baseTerms:         scoring.MergeTerms(cfg.Terms),
		maxEditDistance:   cfg.MaxEditDistance,
		cacheSize:         cfg.CacheSize,
		workers:           cfg.Workers,
		suffixes:          suffixes,
		allowedOrigins:    cfg.AllowedOrigins,
		notifier:          NewScanNotifier(),
	}
	if err := server.Reload(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.WatchConfig {
		paths := []string{server.watchlistPath, server.substitutionsPath, server.activeSubstitutions}
		watcher, err := watchConfig(paths, func() {
			if err := server.Reload(); err != nil {
				logrus.WithError(err).Warn("reload scanner")
			}
		})
		if err != nil {
			logrus.WithError(err).Warn("config watch disabled")
		} else {
			server.watcher = watcher
			logrus.Info("watching config files for changes")
		}
	}
	return server, nil
}

// Close stops background work and closes the database.
func (s *Server) Close() error {
	s.jobMu.Lock()
	if s.activeJob != nil {
		s.activeJob.cancel()
	}
	s.jobMu.Unlock()
	if err := s.watcher.Close(); err != nil {
		logrus.WithError(err).Warn("close config watcher")
	}
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.GET("/terms", s.handleListTerms)
		api.POST("/terms", s.handleAddTerms)
		api.DELETE("/terms/:term", s.handleDeleteTerm)
		api.POST("/scan", s.handleScan)
		api.POST("/upload", s.handleUpload)
		api.GET("/batches", s.handleListBatches)
		api.GET("/batches/:id", s.handleGetBatch)
		api.GET("/batches/:id/results", s.handleBatchResults)
		api.GET("/requests/:id/status", s.handleRequestStatus)
		api.POST("/evaluate", s.handleEvaluate)
		api.GET("/evaluate/status", s.handleEvaluateStatus)
		api.DELETE("/evaluate/:jobID", s.handleCancelEvaluate)
		api.GET("/evaluate/stream", s.handleEvaluateStream)
		api.GET("/results", s.handleResults)
		api.GET("/export.csv", s.handleExportCSV)
		api.GET("/export.json", s.handleExportJSON)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	seen, err := s.db.ListSuffixes()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	s.reloadMu.Lock()
	substitutions := s.activeSubstitutions
	s.reloadMu.Unlock()

	scanner := s.currentScanner()
	c.JSON(http.StatusOK, gin.H{
		"watchlist_path":     s.watchlistPath,
		"substitutions_path": substitutions,
		"terms":              scanner.Targets(),
		"max_edit_distance":  scanner.MaxEditDistance(),
		"substitution_count": scanner.SubstitutionCount(),
		"suffix_origin":      s.suffixes.Origin,
		"suffix_rules":       s.suffixes.Rules,
		"suffixes_seen":      seen,
	})
}

func (s *Server) handleListTerms(c *gin.Context) {
	rows, err := s.db.ListTerms()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	items := make([]TermDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, TermFromModel(row))
	}
	c.JSON(http.StatusOK, TermsResponse{Items: items, Active: s.currentScanner().Targets()})
}

func (s *Server) handleAddTerms(c *gin.Context) {
	var req TermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	merged := scoring.MergeTerms(req.Terms)
	if len(merged) == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("terms are required"))
		return
	}

	scanner := s.currentScanner()
	rows := make([]store.Term, 0, len(merged))
	for _, term := range merged {
		normalized := scanner.Normalize(term)
		if normalized == "" {
			continue
		}
		rows = append(rows, store.Term{Normalized: normalized, Term: term, Source: store.SourceAPI})
	}
	if err := s.db.UpsertTerms(rows); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.Reload(); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": len(rows), "active": s.currentScanner().Targets()})
}

func (s *Server) handleDeleteTerm(c *gin.Context) {
	term := strings.TrimSpace(c.Param("term"))
	if term == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("term is required"))
		return
	}
	normalized := s.currentScanner().Normalize(term)
	row, err := s.db.GetTerm(normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("term %q not found", term))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	if row.Source == store.SourceWatchlist {
		s.renderError(c, http.StatusConflict, fmt.Errorf("term %q is managed by the watchlist file", term))
		return
	}
	if err := s.db.DeleteTerm(normalized); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.Reload(); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": term, "active": s.currentScanner().Targets()})
}

func (s *Server) handleScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Domains) == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("domains are required"))
		return
	}
	if len(req.Domains) > maxSyncDomains {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("at most %d domains per request; upload a feed instead", maxSyncDomains))
		return
	}
	persist := req.Persist == nil || *req.Persist

	scanner := s.currentScanner()
	items := make([]ResultDTO, 0, len(req.Domains))
	for _, raw := range req.Domains {
		domain := feed.CleanDomain(raw)
		if domain == "" {
			continue
		}
		start := time.Now()
		res := scanner.Scan(domain)
		elapsed := time.Since(start)
		if persist {
			if err := s.persistResult(res, elapsed); err != nil {
				s.renderError(c, http.StatusInternalServerError, err)
				return
			}
		}
		items = append(items, FromScan(res, elapsed))
	}
	c.JSON(http.StatusOK, ScanResponse{Items: items, Total: len(items)})
}

func (s *Server) persistResult(res scoring.Result, elapsed time.Duration) error {
	if err := s.db.SaveDomain(DomainModel(res)); err != nil {
		return fmt.Errorf("save domain %s: %w", res.Domain, err)
	}
	row := ResultModel(res, elapsed)
	if err := s.db.SaveScanResult(&row); err != nil {
		return fmt.Errorf("save scan result %s: %w", res.Domain, err)
	}
	return nil
}

func (s *Server) handleListBatches(c *gin.Context) {
	offset, pageSize := pagination(c, 25)
	rows, total, err := s.db.ListBatches(offset, pageSize)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]BatchDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, BatchFromModel(row))
	}
	c.JSON(http.StatusOK, BatchesResponse{Items: dtos, Total: total})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batch, ok := s.lookupBatch(c)
	if !ok {
		return
	}
	processed, err := s.db.CountBatchResults(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dto := BatchFromModel(*batch)
	dto.ProcessedDomains = processed
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleBatchResults(c *gin.Context) {
	batch, ok := s.lookupBatch(c)
	if !ok {
		return
	}
	s.renderResults(c, batch.ID)
}

func (s *Server) lookupBatch(c *gin.Context) (*store.Batch, bool) {
	batchID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return nil, false
	}
	batch, err := s.db.GetBatch(batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", batchID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return nil, false
	}
	return batch, true
}

func (s *Server) handleRequestStatus(c *gin.Context) {
	requestID, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	request, err := s.db.GetBatchRequest(requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("request %d not found", requestID))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusOK, BatchRequestFromModel(*request))
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}
	if req.BatchID == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch_id is required"))
		return
	}

	batch, err := s.db.GetBatch(req.BatchID)
	if err != nil {
		s.renderError(c, http.StatusNotFound, fmt.Errorf("batch %d not found", req.BatchID))
		return
	}

	totalDomains, err := s.db.CountBatchDomains(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if totalDomains == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("batch has no domains to scan"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob != nil {
		s.renderError(c, http.StatusConflict, errors.New("scan already running"))
		return
	}

	job, err := s.startScan(req, batch, int64(totalDomains))
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusAccepted, StartEvaluationResponse{
		JobID:     job.id,
		BatchID:   batch.ID,
		RequestID: job.requestID,
		Total:     job.total,
		StartedAt: job.startedAt,
	})
}

func (s *Server) handleCancelEvaluate(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobID"))
	if jobID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("job id required"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no scan running"))
		return
	}
	if s.activeJob.id != jobID {
		s.renderError(c, http.StatusNotFound, errors.New("job not found"))
		return
	}

	s.activeJob.cancel()
	logrus.WithField("job", jobID).Info("scan cancellation requested")
	s.notifier.Broadcast(ScanEvent{
		Type:    EventProgress,
		JobID:   s.activeJob.id,
		BatchID: s.activeJob.batchID,
		Total:   s.activeJob.total,
		Message: "cancellation requested",
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleEvaluateStatus(c *gin.Context) {
	s.jobMu.Lock()
	job := s.activeJob
	s.jobMu.Unlock()

	resp := EvaluateStatusResponse{Running: job != nil}
	if job != nil {
		resp.JobID = job.id
		resp.BatchID = job.batchID
		resp.RequestID = job.requestID
		resp.Total = job.total
	}

	if status := s.notifier.LastStatus(); status != nil {
		resp.State = status.Type
		resp.Message = status.Message
		resp.Processed = status.Processed
		resp.Flagged = status.Flagged
		if resp.JobID == "" {
			resp.JobID = status.JobID
		}
		if status.Total != 0 {
			resp.Total = status.Total
		}
		if status.BatchID != 0 {
			resp.BatchID = status.BatchID
		}
		resp.LastResult = status.Result
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvaluateStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("scan websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Warn("scan websocket unexpected close")
			} else {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("scan websocket closed")
			}
			break
		}
	}
}

func (s *Server) handleResults(c *gin.Context) {
	batchID, ok := s.batchIDQuery(c)
	if !ok {
		return
	}
	s.renderResults(c, batchID)
}

func (s *Server) renderResults(c *gin.Context, batchID uint) {
	offset, pageSize := pagination(c, 100)
	minConfidence, _ := strconv.ParseFloat(firstNonEmpty(c.Query("minConfidence"), c.Query("min_confidence")), 64)

	rows, total, err := s.db.ListScanResults(store.ScanResultQuery{
		Query:          strings.TrimSpace(c.Query("q")),
		Target:         c.Query("target"),
		Method:         c.Query("method"),
		Suffix:         firstNonEmpty(c.Query("suffix"), c.Query("tld")),
		Recommendation: c.Query("recommendation"),
		MinConfidence:  minConfidence,
		Sort:           c.Query("sort"),
		Offset:         offset,
		Limit:          pageSize,
		BatchID:        batchID,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]ResultDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.JSON(http.StatusOK, ResultsResponse{Items: dtos, Total: total})
}

func (s *Server) handleExportCSV(c *gin.Context) {
	batchID, ok := s.batchIDQuery(c)
	if !ok {
		return
	}
	rows, _, err := s.db.ListScanResults(store.ScanResultQuery{Limit: -1, BatchID: batchID, Sort: "domain_asc"})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=domainwatch-export.csv")
	c.Header("Content-Type", "text/csv")

	writer := csv.NewWriter(c.Writer)
	headers := []string{"domain", "suffix", "recommendation", "confidence", "top_target", "top_method", "match_count", "descriptions", "processing_time_ms"}
	if err := writer.Write(headers); err != nil {
		return
	}
	for _, row := range rows {
		dto := FromModel(row)
		descriptions := make([]string, 0, len(dto.Matches))
		for _, m := range dto.Matches {
			descriptions = append(descriptions, m.Description)
		}
		line := []string{
			dto.Domain,
			dto.Suffix,
			dto.Recommendation,
			fmt.Sprintf("%.4f", dto.Confidence),
			dto.TopTarget,
			dto.TopMethod,
			strconv.Itoa(dto.MatchCount),
			strings.Join(descriptions, "|"),
			strconv.FormatInt(dto.ProcessingTimeMs, 10),
		}
		if err := writer.Write(line); err != nil {
			return
		}
	}
	writer.Flush()
}

func (s *Server) handleExportJSON(c *gin.Context) {
	batchID, ok := s.batchIDQuery(c)
	if !ok {
		return
	}
	rows, _, err := s.db.ListScanResults(store.ScanResultQuery{Limit: -1, BatchID: batchID, Sort: "domain_asc"})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]ResultDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	c.Header("Content-Disposition", "attachment; filename=domainwatch-export.json")
	c.JSON(http.StatusOK, dtos)
}

func (s *Server) batchIDQuery(c *gin.Context) (uint, bool) {
	value := firstNonEmpty(c.Query("batch_id"), c.Query("batchId"))
	if value == "" {
		return 0, true
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %s", value))
		return 0, false
	}
	return uint(parsed), true
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func pagination(c *gin.Context, defaultSize int) (offset, pageSize int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ = strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	return page * pageSize, pageSize
}

func parseUintParam(value string) (uint, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("identifier is required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier: %w", err)
	}
	if parsed == 0 {
		return 0, errors.New("identifier must be greater than zero")
	}
	return uint(parsed), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
