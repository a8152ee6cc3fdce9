package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
	pkgerrors "github.com/venuecast/backend/pkg/errors"
)

// Target identifies one venue matched to a request at initialize time.
type Target struct {
	VenueID    uuid.UUID
	HasContact bool
}

// Outcome is the terminal result of one send attempt.
type Outcome struct {
	Status              enums.DeliveryStatus
	TransportDeliveryID *string
	Error               *string
	SentAt              *time.Time
}

// Aggregate summarizes a request's ledger. Status is fully determined by the
// counts. PendingCount is every row still awaiting a successful delivery:
// untouched, mid-claim, and failed rows alike, so a batch with failures
// reads partial until a resend clears them. FailedCount is the retriable
// subset of PendingCount.
type Aggregate struct {
	SentCount    int64               `json:"sentCount"`
	PendingCount int64               `json:"pendingCount"`
	FailedCount  int64               `json:"failedCount"`
	SkippedCount int64               `json:"skippedCount"`
	Status       enums.RequestStatus `json:"status"`
	LastSentAt   *time.Time          `json:"lastSentAt"`
}

// Service defines the delivery ledger contract: idempotent initialization,
// claim/record for send attempts, and read-side aggregation.
type Service interface {
	Initialize(ctx context.Context, requestID uuid.UUID, targets []Target) (int64, error)
	Claim(ctx context.Context, requestID, venueID uuid.UUID) (bool, error)
	Record(ctx context.Context, requestID, venueID uuid.UUID, outcome Outcome) error
	Aggregate(ctx context.Context, requestID uuid.UUID) (*Aggregate, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.DeliveryLog, error)
	Get(ctx context.Context, requestID, venueID uuid.UUID) (*models.DeliveryLog, error)
	CandidateVenueIDs(ctx context.Context, requestID uuid.UUID, statuses []enums.DeliveryStatus) ([]uuid.UUID, error)
	DeleteByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (int64, error)
	ReapStaleClaims(ctx context.Context, olderThan time.Duration) ([]models.DeliveryLog, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires the ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

// Initialize upserts one pending row per target, marking venues without a
// usable contact address as skipped. Pairs that already have a row are left
// untouched, so re-running the match step never duplicates or resets state.
func (s *service) Initialize(ctx context.Context, requestID uuid.UUID, targets []Target) (int64, error) {
	if requestID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	rows := make([]models.DeliveryLog, 0, len(targets))
	for _, target := range targets {
		if target.VenueID == uuid.Nil {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "venue id required")
		}
		status := enums.DeliveryStatusPending
		if !target.HasContact {
			status = enums.DeliveryStatusSkipped
		}
		rows = append(rows, models.DeliveryLog{
			ID:          uuid.New(),
			RequestID:   requestID,
			VenueID:     target.VenueID,
			EmailStatus: status,
		})
	}
	created, err := s.repo.Upsert(ctx, rows)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "initialize delivery logs")
	}
	return created, nil
}

func (s *service) Claim(ctx context.Context, requestID, venueID uuid.UUID) (bool, error) {
	if requestID == uuid.Nil || venueID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "request id and venue id required")
	}
	claimed, err := s.repo.Claim(ctx, requestID, venueID, s.now().UTC())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim delivery log")
	}
	return claimed, nil
}

// Record writes the outcome of a claimed attempt and releases the claim.
// Exactly one Record succeeds per Claim; a second write finds the row no
// longer in the sending state and reports a state conflict.
func (s *service) Record(ctx context.Context, requestID, venueID uuid.UUID, outcome Outcome) error {
	if requestID == uuid.Nil || venueID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "request id and venue id required")
	}
	if !validOutcomeStatus(outcome.Status) {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid outcome status").
			WithDetails(map[string]any{"status": outcome.Status})
	}

	updates := map[string]any{
		"email_status": outcome.Status,
		"claimed_at":   nil,
	}
	if outcome.Status.IsSuccessful() {
		sentAt := outcome.SentAt
		if sentAt == nil {
			now := s.now().UTC()
			sentAt = &now
		}
		updates["sent_at"] = *sentAt
		updates["email_error"] = nil
		if outcome.TransportDeliveryID != nil {
			updates["transport_delivery_id"] = *outcome.TransportDeliveryID
		}
	} else {
		errText := ""
		if outcome.Error != nil {
			errText = *outcome.Error
		}
		updates["email_error"] = errText
	}

	released, err := s.repo.Release(ctx, requestID, venueID, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery outcome")
	}
	if !released {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery log is not claimed")
	}
	return nil
}

func (s *service) Aggregate(ctx context.Context, requestID uuid.UUID) (*Aggregate, error) {
	if requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	counts, err := s.repo.StatusCounts(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate delivery logs")
	}

	failed := counts[enums.DeliveryStatusFailed] + counts[enums.DeliveryStatusBounced] + counts[enums.DeliveryStatusComplained]
	agg := &Aggregate{
		SentCount:    counts[enums.DeliveryStatusSent] + counts[enums.DeliveryStatusDelivered],
		PendingCount: counts[enums.DeliveryStatusPending] + counts[enums.DeliveryStatusSending] + failed,
		FailedCount:  failed,
		SkippedCount: counts[enums.DeliveryStatusSkipped],
	}
	agg.Status = enums.DeriveRequestStatus(agg.SentCount, agg.PendingCount)

	last, err := s.repo.LastSentAt(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read last sent timestamp")
	}
	agg.LastSentAt = last
	return agg, nil
}

func (s *service) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.DeliveryLog, error) {
	return s.repo.ListByRequest(ctx, requestID)
}

func (s *service) Get(ctx context.Context, requestID, venueID uuid.UUID) (*models.DeliveryLog, error) {
	return s.repo.Get(ctx, requestID, venueID)
}

func (s *service) CandidateVenueIDs(ctx context.Context, requestID uuid.UUID, statuses []enums.DeliveryStatus) ([]uuid.UUID, error) {
	return s.repo.CandidateVenueIDs(ctx, requestID, statuses)
}

func (s *service) DeleteByRequest(ctx context.Context, tx *gorm.DB, requestID uuid.UUID) (int64, error) {
	return s.repo.DeleteByRequest(ctx, tx, requestID)
}

// ReapStaleClaims fails rows stuck in the sending state past the TTL. Each
// row is failed with its own conditional update so a legitimate reclaim in
// the window is never clobbered. Returns the rows actually reaped.
func (s *service) ReapStaleClaims(ctx context.Context, olderThan time.Duration) ([]models.DeliveryLog, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.repo.StaleClaims(ctx, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale claims")
	}

	reaped := make([]models.DeliveryLog, 0, len(stale))
	for _, row := range stale {
		ok, err := s.repo.FailStaleClaim(ctx, row.ID, cutoff, "claim expired")
		if err != nil {
			return reaped, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail stale claim")
		}
		if ok {
			reaped = append(reaped, row)
		}
	}
	return reaped, nil
}

func validOutcomeStatus(status enums.DeliveryStatus) bool {
	switch status {
	case enums.DeliveryStatusSent,
		enums.DeliveryStatusDelivered,
		enums.DeliveryStatusFailed,
		enums.DeliveryStatusBounced,
		enums.DeliveryStatusComplained:
		return true
	default:
		return false
	}
}
