package requests

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
)

// Aggregate carries the ledger-derived summary persisted onto a request.
type Aggregate struct {
	Status     enums.RequestStatus
	SentCount  int64
	LastSentAt *time.Time
}

// Repository exposes persistence helpers for event requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, id uuid.UUID) (*models.EventRequest, error)
	Create(ctx context.Context, request *models.EventRequest) error
	UpdateAggregate(ctx context.Context, id uuid.UUID, agg Aggregate) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a request repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Get(ctx context.Context, id uuid.UUID) (*models.EventRequest, error) {
	var request models.EventRequest
	if err := r.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repositoryImpl) Create(ctx context.Context, request *models.EventRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repositoryImpl) UpdateAggregate(ctx context.Context, id uuid.UUID, agg Aggregate) error {
	updates := map[string]any{
		"status":     agg.Status,
		"sent_count": agg.SentCount,
	}
	if agg.LastSentAt != nil {
		updates["last_sent_at"] = *agg.LastSentAt
	}
	return r.db.WithContext(ctx).
		Model(&models.EventRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Delete removes the request row. Ledger rows cascade via the caller's
// transaction; the bool reports whether the request existed.
func (r *repositoryImpl) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	result := conn.WithContext(ctx).Delete(&models.EventRequest{}, "id = ?", id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
