// Package catalog is the record store behind the pipeline: one entry per
// ingested model file, pointing at its staged source and its extracted
// derivative output on disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bmms/bmms-server/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrRecordNotFound is returned by FindOne when no record exists for a name.
var ErrRecordNotFound = errors.New("catalog record not found")

// Service provides catalog operations keyed by file name.
type Service struct {
	db *gorm.DB
}

// NewService creates a catalog service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Exists reports whether a record exists for the given name.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&types.ModelRecord{}).
		Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check catalog record: %w", err)
	}
	return count > 0, nil
}

// FindOne returns the record for the given name.
func (s *Service) FindOne(ctx context.Context, name string) (*types.ModelRecord, error) {
	var record types.ModelRecord
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find catalog record: %w", err)
	}
	return &record, nil
}

// Create inserts a new record.
func (s *Service) Create(ctx context.Context, record *types.ModelRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create catalog record: %w", err)
	}

	log.Info().
		Str("name", record.Name).
		Str("derivative_path", record.DerivativePath).
		Msg("catalog record created")
	return nil
}

// Update replaces the source and derivative paths of the record with the
// given name.
func (s *Service) Update(ctx context.Context, record *types.ModelRecord) error {
	result := s.db.WithContext(ctx).Model(&types.ModelRecord{}).
		Where("name = ?", record.Name).
		Updates(map[string]interface{}{
			"source_path":     record.SourcePath,
			"derivative_path": record.DerivativePath,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update catalog record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	log.Info().
		Str("name", record.Name).
		Str("derivative_path", record.DerivativePath).
		Msg("catalog record updated")
	return nil
}

// List returns catalog records ordered by name. A non-empty name filters to
// records whose name contains it, case-insensitively.
func (s *Service) List(ctx context.Context, name string) ([]types.ModelRecord, error) {
	query := s.db.WithContext(ctx).Order("name")
	if name != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(name)+"%")
	}

	var records []types.ModelRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list catalog records: %w", err)
	}
	return records, nil
}
