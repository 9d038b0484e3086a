package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Term sources.
const (
	SourceWatchlist = "watchlist"
	SourceAPI       = "api"
)

// UpsertTerms inserts terms or refreshes their display form and source.
func (d *Database) UpsertTerms(terms []Term) error {
	if d == nil {
		return errors.New("database is nil")
	}
	rows := make([]Term, 0, len(terms))
	for _, t := range terms {
		t.Normalized = strings.ToLower(strings.TrimSpace(t.Normalized))
		if t.Normalized == "" {
			continue
		}
		if strings.TrimSpace(t.Term) == "" {
			t.Term = t.Normalized
		}
		rows = append(rows, t)
	}
	if len(rows) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// SQLite caps bound variables at 999.
	return d.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "normalized"}},
		DoUpdates: clause.AssignmentColumns([]string{"term", "source", "updated_at"}),
	}).CreateInBatches(rows, 150).Error
}

// ReplaceTerms swaps every term of the given source for the supplied slice.
func (d *Database) ReplaceTerms(source string, terms []Term) error {
	if d == nil {
		return errors.New("database is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source = ?", source).Delete(&Term{}).Error; err != nil {
			return err
		}
		if len(terms) == 0 {
			return nil
		}
		for i := range terms {
			terms[i].Source = source
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "normalized"}},
			DoUpdates: clause.AssignmentColumns([]string{"term", "source", "updated_at"}),
		}).CreateInBatches(terms, 150).Error
	})
}

// ListTerms returns every stored term ordered by normalized form.
func (d *Database) ListTerms() ([]Term, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	var rows []Term
	if err := d.gorm.Model(&Term{}).Order("normalized ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteTerm removes a term. It returns gorm.ErrRecordNotFound when nothing matched.
func (d *Database) DeleteTerm(normalized string) error {
	key := strings.ToLower(strings.TrimSpace(normalized))
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.gorm.Where("normalized = ?", key).Delete(&Term{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountTerms returns the number of stored terms.
func (d *Database) CountTerms() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Term{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetTerm fetches a term by its normalized form.
func (d *Database) GetTerm(normalized string) (*Term, error) {
	var row Term
	if err := d.gorm.Where("normalized = ?", strings.ToLower(strings.TrimSpace(normalized))).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
