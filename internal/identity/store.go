package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mobilityone/fleetbridge/internal/database"
)

// Store persists and resolves phone-to-identity mappings.
type Store struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// New creates a Store over pool.
func New(pool *database.PoolManager, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.With(zap.String("component", "identity"))}
}

// GetActiveIdentity returns the mapping for phone, or nil if none exists.
func (s *Store) GetActiveIdentity(ctx context.Context, phone string) (*UserMapping, error) {
	var mapping UserMapping
	err := s.pool.DB().WithContext(ctx).Where("phone = ?", phone).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup identity for %s: %w", phone, err)
	}
	return &mapping, nil
}

// PersistMapping upserts a phone-to-identity mapping, retrying on
// transient transaction errors.
func (s *Store) PersistMapping(ctx context.Context, mapping UserMapping) error {
	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"api_identity", "display_name", "updated_at"}),
		}).Create(&mapping).Error
	})
	if err != nil {
		return fmt.Errorf("persist identity mapping for %s: %w", mapping.Phone, err)
	}
	return nil
}
