package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"domainwatch/backend/internal/scoring"
	"domainwatch/backend/internal/store"
)

const (
	broadcastThrottle = 500 * time.Millisecond
	defaultChunkSize  = 1000
	maxChunkSize      = 5000
)

// Request types recorded on BatchRequest rows.
const (
	requestScan   = "scan"
	requestResume = "resume"
)

// scanJob tracks the state of a running batch scan.
type scanJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	total     int64
	batchID   uint
	batchName string
	requestID uint
}

// startScan launches a new asynchronous batch scan. The caller must hold
// s.jobMu.
func (s *Server) startScan(req EvaluateRequest, batch *store.Batch, totalDomains int64) (*scanJob, error) {
	if s.activeJob != nil {
		return nil, errors.New("scan already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &scanJob{
		id:        uuid.NewString(),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		total:     totalDomains,
		batchID:   batch.ID,
		batchName: batch.Name,
	}

	requestType := requestScan
	if req.Resume && !req.Force {
		requestType = requestResume
	}
	request, err := s.db.CreateBatchRequest(batch.ID, requestType, store.StatusRunning, job.id)
	if err != nil {
		job.cancel()
		return nil, fmt.Errorf("create batch request: %w", err)
	}
	job.requestID = request.ID

	s.activeJob = job
	go s.runScan(ctx, job, req, s.currentScanner())
	return job, nil
}

func (s *Server) runScan(ctx context.Context, job *scanJob, req EvaluateRequest, scanner *scoring.Scanner) {
	finishStatus := store.StatusCompleted

	defer func() {
		if err := s.db.UpdateBatchRequest(job.requestID, finishStatus); err != nil {
			logrus.WithError(err).WithField("batch_id", job.batchID).Warn("update batch request")
		}
		if err := s.db.UpdateBatchProcessingInfo(job.batchID); err != nil {
			logrus.WithError(err).WithField("batch_id", job.batchID).Warn("refresh batch processing info")
		}
		s.jobMu.Lock()
		s.activeJob = nil
		s.jobMu.Unlock()
		job.cancel()
	}()

	fail := func(err error, msg string) {
		finishStatus = store.StatusFailed
		s.notifier.Broadcast(ScanEvent{
			Type:    EventError,
			JobID:   job.id,
			BatchID: job.batchID,
			Message: fmt.Sprintf("%s: %v", msg, err),
		})
		logrus.WithError(err).WithField("job", job.id).Error(msg)
	}

	skipExisting := req.Resume && !req.Force
	existing := make(map[string]struct{})
	processed := 0
	if skipExisting {
		scanned, err := s.db.ScannedDomainsForBatch(job.batchID)
		if err != nil {
			fail(err, "load existing results")
			return
		}
		for _, dom := range scanned {
			if key := strings.TrimSpace(dom); key != "" {
				existing[key] = struct{}{}
			}
		}
		processed = len(existing)
	}

	workers := req.Workers
	if workers <= 0 {
		workers = s.workers
	}
	if workers <= 0 {
		workers = scoring.DetermineWorkerCount()
	}
	chunkSize := req.Limit
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunkSize = min(chunkSize, maxChunkSize)

	logrus.WithFields(logrus.Fields{
		"job":        job.id,
		"batch_id":   job.batchID,
		"batch_name": job.batchName,
		"total":      job.total,
		"processed":  processed,
		"resume":     req.Resume,
		"force":      req.Force,
		"workers":    workers,
		"terms":      len(scanner.Targets()),
	}).Info("scan job started")

	s.notifier.Broadcast(ScanEvent{
		Type:      EventStarted,
		JobID:     job.id,
		BatchID:   job.batchID,
		Total:     job.total,
		Processed: processed,
		Message:   "scan started",
	})

	domainCh := make(chan string, workers*4)
	errCh := make(chan error, 1)
	go func() {
		defer close(domainCh)
		defer close(errCh)
		offset := req.Offset
		for {
			rows, err := s.db.ListBatchDomainsForScan(job.batchID, offset, chunkSize)
			if err != nil {
				errCh <- fmt.Errorf("list batch domains: %w", err)
				return
			}
			if len(rows) == 0 {
				return
			}
			for _, row := range rows {
				domain := strings.TrimSpace(row.Domain)
				if domain == "" {
					continue
				}
				if skipExisting {
					if _, ok := existing[row.DomainNormalized]; ok {
						continue
					}
				}
				select {
				case domainCh <- domain:
				case <-ctx.Done():
					return
				}
			}
			offset += len(rows)
			if len(rows) < chunkSize {
				return
			}
		}
	}()

	results := scoring.ScanAll(ctx, scanner, domainCh, workers)

	var (
		flagged      int
		lastEmit     time.Time
		hasPending   bool
		pendingEvent ScanEvent
	)
	flush := func(force bool) {
		if !hasPending {
			return
		}
		if !force && !lastEmit.IsZero() && time.Since(lastEmit) < broadcastThrottle {
			return
		}
		s.notifier.Broadcast(pendingEvent)
		lastEmit = time.Now()
		hasPending = false
	}

	cancelled := func() {
		flush(true)
		finishStatus = store.StatusCancelled
		s.notifier.Broadcast(ScanEvent{
			Type:      EventCancelled,
			JobID:     job.id,
			BatchID:   job.batchID,
			Total:     job.total,
			Processed: processed,
			Flagged:   flagged,
			Message:   "scan cancelled",
		})
		logrus.WithField("job", job.id).WithField("batch_id", job.batchID).Warn("scan job cancelled")
	}

	activeResults := results
	activeErrCh := errCh
	for activeResults != nil || activeErrCh != nil {
		select {
		case <-ctx.Done():
			cancelled()
			return
		case err, ok := <-activeErrCh:
			if !ok {
				activeErrCh = nil
				continue
			}
			flush(true)
			fail(err, "list batch domains")
			return
		case res, ok := <-activeResults:
			if !ok {
				activeResults = nil
				continue
			}
			if err := s.persistResult(res.Result, res.Elapsed); err != nil {
				flush(true)
				fail(err, "save scan result")
				return
			}
			processed++
			if len(res.Matches) > 0 {
				flagged++
			}
			dto := FromScan(res.Result, res.Elapsed)
			pendingEvent = ScanEvent{
				Type:      EventResult,
				JobID:     job.id,
				BatchID:   job.batchID,
				Total:     job.total,
				Processed: processed,
				Flagged:   flagged,
				Result:    &dto,
			}
			hasPending = true
			logrus.WithFields(logrus.Fields{
				"job":        job.id,
				"domain":     res.Domain,
				"matches":    len(res.Matches),
				"elapsed_us": res.Elapsed.Microseconds(),
			}).Debug("domain scanned")
			flush(false)
		}
	}

	// The result stream also closes when workers observe cancellation first.
	if ctx.Err() != nil {
		cancelled()
		return
	}
	flush(true)
	duration := time.Since(job.startedAt).Round(time.Millisecond)
	s.notifier.Broadcast(ScanEvent{
		Type:      EventComplete,
		JobID:     job.id,
		BatchID:   job.batchID,
		Total:     job.total,
		Processed: processed,
		Flagged:   flagged,
		Message:   fmt.Sprintf("scan finished in %s", duration),
	})
	logrus.WithFields(logrus.Fields{
		"job":       job.id,
		"batch_id":  job.batchID,
		"processed": processed,
		"flagged":   flagged,
		"duration":  duration,
	}).Info("scan job completed")
}
