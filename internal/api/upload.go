package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"domainwatch/backend/internal/feed"
	"domainwatch/backend/internal/scoring"
	"domainwatch/backend/internal/store"
)

func (s *Server) handleUpload(c *gin.Context) {
	batchName := strings.TrimSpace(c.PostForm("batch_name"))
	if batchName == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("batch_name is required"))
		return
	}
	ownerName := strings.TrimSpace(c.PostForm("owner_name"))
	if ownerName == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("owner_name is required"))
		return
	}
	format, err := feed.ParseFormat(c.PostForm("format"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	fileHeader, err := c.FormFile("domains")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, http.StatusBadRequest, errors.New("domains file is required"))
		} else {
			s.renderError(c, http.StatusBadRequest, err)
		}
		return
	}

	path, cleanup, err := saveFormFile(fileHeader)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	defer cleanup()

	parsed, err := parseDomainFeed(c, path, format, s.currentScanner())
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	if parsed.rowCount == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("no domains detected in upload"))
		return
	}

	existing, err := s.db.ExistingResultKeys(parsed.uniqueNormalized)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	batch, err := s.db.CreateBatch(batchName, ownerName, fileHeader.Filename, string(parsed.format))
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	for _, domain := range parsed.domainModels {
		if err := s.db.SaveDomain(domain); err != nil {
			s.renderError(c, http.StatusInternalServerError, fmt.Errorf("save domain %s: %w", domain.Domain, err))
			return
		}
	}
	for i := range parsed.domainBatches {
		parsed.domainBatches[i].BatchID = batch.ID
	}
	if err := s.db.ReplaceDomainBatch(batch.ID, parsed.domainBatches); err != nil {
		s.renderError(c, http.StatusInternalServerError, fmt.Errorf("store batch domains: %w", err))
		return
	}

	processed, err := s.db.CountBatchResults(batch.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.db.UpdateBatchStats(
		batch.ID,
		parsed.rowCount,
		len(parsed.domainModels),
		len(existing),
		parsed.duplicateRows,
		processed,
	); err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	terms, err := s.db.CountTerms()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"file":     fileHeader.Filename,
		"format":   parsed.format,
		"rows":     parsed.rowCount,
		"unique":   len(parsed.domainModels),
	}).Info("feed uploaded")

	c.JSON(http.StatusOK, UploadResponse{
		BatchID:         batch.ID,
		BatchName:       batch.Name,
		Owner:           batch.Owner,
		Format:          string(parsed.format),
		RowCount:        parsed.rowCount,
		UniqueDomains:   len(parsed.domainModels),
		ExistingDomains: len(existing),
		DuplicateRows:   parsed.duplicateRows,
		Processed:       processed,
		TermsCount:      int(terms),
	})
}

func saveFormFile(header *multipart.FileHeader) (string, func(), error) {
	if header == nil {
		return "", nil, errors.New("file header is nil")
	}
	src, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}

type feedParseResult struct {
	format           feed.Format
	domainModels     []*store.Domain
	domainBatches    []store.DomainBatch
	uniqueNormalized []string
	rowCount         int
	duplicateRows    int
}

func parseDomainFeed(c *gin.Context, path string, format feed.Format, scanner *scoring.Scanner) (*feedParseResult, error) {
	if format == feed.FormatAuto {
		format = feed.FormatForName(path)
	}
	result := &feedParseResult{format: format}
	unique := make(map[string]struct{})

	count, err := feed.Ingest(feed.IngestOptions{
		Path:    path,
		Format:  format,
		Context: c.Request.Context(),
		Handle: func(e feed.Entry) error {
			key := strings.TrimSuffix(strings.ToLower(e.Domain), ".")
			result.domainBatches = append(result.domainBatches, store.DomainBatch{
				Domain:           e.Domain,
				DomainNormalized: key,
				RowIndex:         len(result.domainBatches) + 1,
			})
			if _, ok := unique[key]; ok {
				return nil
			}
			unique[key] = struct{}{}
			tokens, suffix := scanner.ExtractDomainParts(e.Domain)
			model := &store.Domain{Domain: e.Domain, DomainNormalized: key, Suffix: suffix}
			model.SetTokens(tokens)
			result.domainModels = append(result.domainModels, model)
			result.uniqueNormalized = append(result.uniqueNormalized, key)
			return nil
		},
		Progress: func(n int) {
			logrus.WithField("rows", n).Debug("ingesting upload")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	result.rowCount = count
	result.duplicateRows = max(count-len(result.domainModels), 0)
	return result, nil
}
