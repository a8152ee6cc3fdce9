package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
)

// Repository manages persistence for delivery log rows. Claim and Release
// are single conditional updates; they are the only mutual-exclusion
// mechanism between concurrent send attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, rows []models.DeliveryLog) (int64, error)
	Get(ctx context.Context, requestID, venueID uuid.UUID) (*models.DeliveryLog, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.DeliveryLog, error)
	CandidateVenueIDs(ctx context.Context, requestID uuid.UUID, statuses []enums.DeliveryStatus) ([]uuid.UUID, error)
	Claim(ctx context.Context, requestID, venueID uuid.UUID, now time.Time) (bool, error)
	Release(ctx context.Context, requestID, venueID uuid.UUID, updates map[string]any) (bool, error)
	StatusCounts(ctx context.Context, requestID uuid.UUID) (map[enums.DeliveryStatus]int64, error)
	LastSentAt(ctx context.Context, requestID uuid.UUID) (*time.Time, error)
	DeleteByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (int64, error)
	StaleClaims(ctx context.Context, cutoff time.Time) ([]models.DeliveryLog, error)
	FailStaleClaim(ctx context.Context, id uuid.UUID, cutoff time.Time, errText string) (bool, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a delivery log repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Upsert inserts ledger rows, silently skipping (request, venue) pairs that
// already exist. Returns the number of rows actually created.
func (r *repositoryImpl) Upsert(ctx context.Context, rows []models.DeliveryLog) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}, {Name: "venue_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) Get(ctx context.Context, requestID, venueID uuid.UUID) (*models.DeliveryLog, error) {
	var row models.DeliveryLog
	if err := r.db.WithContext(ctx).
		First(&row, "request_id = ? AND venue_id = ?", requestID, venueID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repositoryImpl) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.DeliveryLog, error) {
	var rows []models.DeliveryLog
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) CandidateVenueIDs(ctx context.Context, requestID uuid.UUID, statuses []enums.DeliveryStatus) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Where("request_id = ? AND email_status IN ?", requestID, statuses).
		Order("created_at ASC, id ASC").
		Pluck("venue_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Claim transitions a row into the in-flight marker. The WHERE clause is the
// compare-and-swap: only rows currently in a claimable status move, so two
// overlapping attempts can never both own the same row.
func (r *repositoryImpl) Claim(ctx context.Context, requestID, venueID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Where("request_id = ? AND venue_id = ? AND email_status IN ?",
			requestID, venueID, enums.ClaimableDeliveryStatuses).
		Updates(map[string]any{
			"email_status": enums.DeliveryStatusSending,
			"claimed_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Release writes the attempt outcome, guarded on the row still being claimed.
func (r *repositoryImpl) Release(ctx context.Context, requestID, venueID uuid.UUID, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Where("request_id = ? AND venue_id = ? AND email_status = ?",
			requestID, venueID, enums.DeliveryStatusSending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) StatusCounts(ctx context.Context, requestID uuid.UUID) (map[enums.DeliveryStatus]int64, error) {
	type statusCount struct {
		EmailStatus enums.DeliveryStatus
		Total       int64
	}
	var rows []statusCount
	if err := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Select("email_status, COUNT(*) AS total").
		Where("request_id = ?", requestID).
		Group("email_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.DeliveryStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.EmailStatus] = row.Total
	}
	return counts, nil
}

func (r *repositoryImpl) LastSentAt(ctx context.Context, requestID uuid.UUID) (*time.Time, error) {
	var row struct {
		Last *time.Time
	}
	if err := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Select("MAX(sent_at) AS last").
		Where("request_id = ?", requestID).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	return row.Last, nil
}

func (r *repositoryImpl) DeleteByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	result := conn.WithContext(ctx).Delete(&models.DeliveryLog{}, "request_id = ?", requestID)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) StaleClaims(ctx context.Context, cutoff time.Time) ([]models.DeliveryLog, error) {
	var rows []models.DeliveryLog
	if err := r.db.WithContext(ctx).
		Where("email_status = ? AND claimed_at < ?", enums.DeliveryStatusSending, cutoff).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FailStaleClaim marks one abandoned in-flight row as failed. The cutoff
// guard keeps the update from racing a legitimate attempt that reclaimed the
// row in the meantime.
func (r *repositoryImpl) FailStaleClaim(ctx context.Context, id uuid.UUID, cutoff time.Time, errText string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Where("id = ? AND email_status = ? AND claimed_at < ?", id, enums.DeliveryStatusSending, cutoff).
		Updates(map[string]any{
			"email_status": enums.DeliveryStatusFailed,
			"email_error":  errText,
			"claimed_at":   nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
