package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/venuecast/backend/internal/ledger"
	"github.com/venuecast/backend/internal/mailer"
	"github.com/venuecast/backend/internal/requests"
	"github.com/venuecast/backend/internal/venues"
	"github.com/venuecast/backend/pkg/config"
	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
	pkgerrors "github.com/venuecast/backend/pkg/errors"
	"github.com/venuecast/backend/pkg/logger"
	"github.com/venuecast/backend/pkg/metrics"
)

// Service orchestrates broadcast delivery: matching, single and batch sends,
// retries of failed attempts, and read-side progress reporting.
type Service interface {
	Match(ctx context.Context, requestID uuid.UUID) (*MatchResult, error)
	Send(ctx context.Context, requestID, venueID uuid.UUID) (*Result, error)
	SendAll(ctx context.Context, requestID uuid.UUID, venueTypes []enums.VenueType) (*Result, error)
	ResendFailed(ctx context.Context, requestID uuid.UUID) (*Result, error)
	Status(ctx context.Context, requestID uuid.UUID) (*StatusReport, error)
	TypeCounts(ctx context.Context, requestID uuid.UUID) ([]TypeCount, error)
	DeleteRequest(ctx context.Context, requestID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the dispatcher's collaborators.
type ServiceParams struct {
	Ledger    ledger.Service
	Requests  requests.Repository
	Directory venues.Directory
	Transport mailer.Transport
	Renderer  mailer.Renderer
	DB        txRunner
	Logger    *logger.Logger
	Metrics   *metrics.DispatchMetrics
	Config    config.DispatchConfig
}

type service struct {
	ledger    ledger.Service
	requests  requests.Repository
	directory venues.Directory
	transport mailer.Transport
	renderer  mailer.Renderer
	db        txRunner
	logg      *logger.Logger
	metrics   *metrics.DispatchMetrics
	cfg       config.DispatchConfig
	limiter   *rate.Limiter
}

// NewService validates and wires dispatcher dependencies.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger service required")
	case params.Requests == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "requests repository required")
	case params.Directory == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "venue directory required")
	case params.Transport == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mail transport required")
	case params.Renderer == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "template renderer required")
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db runner required")
	}

	interval := params.Config.SendInterval
	var limiter *rate.Limiter
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	return &service{
		ledger:    params.Ledger,
		requests:  params.Requests,
		directory: params.Directory,
		transport: params.Transport,
		renderer:  params.Renderer,
		db:        params.DB,
		logg:      params.Logger,
		metrics:   params.Metrics,
		cfg:       params.Config,
		limiter:   limiter,
	}, nil
}

// Match resolves the request's eligible venue set and seeds the ledger.
// Venues without a usable contact address get a terminal skipped row.
// Safe to call repeatedly; existing (request, venue) rows are untouched.
func (s *service) Match(ctx context.Context, requestID uuid.UUID) (*MatchResult, error) {
	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	criteria := venues.MatchCriteria{
		District:   request.LocationPreference,
		GuestCount: request.GuestCount,
	}
	matched, err := s.directory.MatchVenues(ctx, criteria)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "match venues")
	}

	targets := make([]ledger.Target, 0, len(matched))
	skipped := 0
	for _, venue := range matched {
		hasContact := venue.HasContact()
		if !hasContact {
			skipped++
		}
		targets = append(targets, ledger.Target{VenueID: venue.ID, HasContact: hasContact})
	}

	created, err := s.ledger.Initialize(ctx, requestID, targets)
	if err != nil {
		return nil, err
	}

	return &MatchResult{
		Matched: len(matched),
		Created: created,
		Skipped: skipped,
	}, nil
}

// Send attempts delivery to a single venue. A row already claimed by a
// concurrent attempt is a silent no-op: the venue shows up in neither the
// sent nor the failed list.
func (s *service) Send(ctx context.Context, requestID, venueID uuid.UUID) (*Result, error) {
	// A dispatch outlives the HTTP request that triggered it: the caller
	// hanging up must not abandon a claimed row or skip the aggregate
	// write. The per-send timeout still bounds each transport call.
	ctx = context.WithoutCancel(ctx)

	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	row, err := s.ledger.Get(ctx, requestID, venueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "venue is not matched to this request")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery log")
	}
	if row.EmailStatus == enums.DeliveryStatusSkipped {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "venue has no contact address and was skipped")
	}

	result := newResult()
	s.attempt(ctx, request, venueID, result)
	return s.finishResult(ctx, requestID, result)
}

// SendAll fans out to every pending venue, optionally narrowed by type tags.
// Attempts are sequential and paced; one venue's failure never aborts the
// rest of the batch. Each candidate is attempted at most once per call.
func (s *service) SendAll(ctx context.Context, requestID uuid.UUID, venueTypes []enums.VenueType) (*Result, error) {
	// Batches run to completion server-side even if the caller disconnects.
	ctx = context.WithoutCancel(ctx)

	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.ledger.CandidateVenueIDs(ctx, requestID, []enums.DeliveryStatus{enums.DeliveryStatusPending})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending venues")
	}
	candidates, err = s.filterByTypes(ctx, candidates, venueTypes)
	if err != nil {
		return nil, err
	}

	return s.runBatch(ctx, request, candidates, "dispatch.send_all")
}

// ResendFailed re-attempts delivery for rows that previously failed,
// bounced, or drew a complaint. Rows already sent or delivered are never
// touched by this path.
func (s *service) ResendFailed(ctx context.Context, requestID uuid.UUID) (*Result, error) {
	// Batches run to completion server-side even if the caller disconnects.
	ctx = context.WithoutCancel(ctx)

	request, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.ledger.CandidateVenueIDs(ctx, requestID, enums.RetriableDeliveryStatuses)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed venues")
	}

	return s.runBatch(ctx, request, candidates, "dispatch.resend_failed")
}

// Status reads the request aggregate plus the full per-venue list. No side
// effects; the admin console polls it during an in-flight batch.
func (s *service) Status(ctx context.Context, requestID uuid.UUID) (*StatusReport, error) {
	if _, err := s.getRequest(ctx, requestID); err != nil {
		return nil, err
	}

	agg, err := s.ledger.Aggregate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	rows, err := s.ledger.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list delivery logs")
	}

	report := &StatusReport{
		SentCount:    agg.SentCount,
		PendingCount: agg.PendingCount,
		FailedCount:  agg.FailedCount,
		SkippedCount: agg.SkippedCount,
		Status:       agg.Status,
		LastSentAt:   agg.LastSentAt,
		Deliveries:   make([]DeliveryView, 0, len(rows)),
	}
	for _, row := range rows {
		report.Deliveries = append(report.Deliveries, newDeliveryView(row))
	}
	return report, nil
}

// TypeCounts groups the request's ledger rows by venue type tag so an
// operator can scope a send-all call. Purely informational.
func (s *service) TypeCounts(ctx context.Context, requestID uuid.UUID) ([]TypeCount, error) {
	if _, err := s.getRequest(ctx, requestID); err != nil {
		return nil, err
	}

	rows, err := s.ledger.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list delivery logs")
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.VenueID)
	}

	venueRows, err := s.directory.GetVenues(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load venues")
	}

	return countTypes(venueRows), nil
}

// DeleteRequest removes the request and cascades its ledger rows in one
// transaction.
func (s *service) DeleteRequest(ctx context.Context, requestID uuid.UUID) error {
	if requestID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}

	var found bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.ledger.DeleteByRequest(ctx, tx, requestID); err != nil {
			return err
		}
		var err error
		found, err = s.requests.Delete(ctx, tx, requestID)
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete request")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
	}
	return nil
}

func (s *service) getRequest(ctx context.Context, requestID uuid.UUID) (*models.EventRequest, error) {
	if requestID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request")
	}
	return request, nil
}

func (s *service) filterByTypes(ctx context.Context, candidates []uuid.UUID, venueTypes []enums.VenueType) ([]uuid.UUID, error) {
	if len(venueTypes) == 0 || len(candidates) == 0 {
		return candidates, nil
	}
	venueRows, err := s.directory.GetVenues(ctx, candidates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load venues for type filter")
	}
	matching := make(map[uuid.UUID]bool, len(venueRows))
	for _, venue := range venueRows {
		if venue.HasAnyType(venueTypes) {
			matching[venue.ID] = true
		}
	}
	filtered := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		if matching[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

func (s *service) runBatch(ctx context.Context, request *models.EventRequest, candidates []uuid.UUID, event string) (*Result, error) {
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{
			"event":        event,
			"broadcast_id": request.ID.String(),
			"candidates":   len(candidates),
		})
		s.logg.Info(logCtx, "batch dispatch starting")
	}

	result := newResult()
	for _, venueID := range candidates {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				// Only a dead context lands here; the batch context is
				// detached from the caller. Stop claiming new rows.
				break
			}
		}
		s.attempt(ctx, request, venueID, result)
	}

	final, err := s.finishResult(ctx, request.ID, result)
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"sent":      len(final.Sent),
			"failed":    len(final.Failed),
			"remaining": final.Remaining,
		})
		s.logg.Info(logCtx, "batch dispatch complete")
	}
	return final, nil
}

// attempt runs one claim, render, transport, record cycle. Every error after
// a successful claim is recovered into a recorded per-venue outcome; claim
// conflicts leave the result untouched.
func (s *service) attempt(ctx context.Context, request *models.EventRequest, venueID uuid.UUID, result *Result) {
	claimed, err := s.ledger.Claim(ctx, request.ID, venueID)
	if err != nil {
		result.Failed = append(result.Failed, FailedVenue{VenueID: venueID, Error: err.Error()})
		return
	}
	if !claimed {
		// Another operation owns this row right now, or the row is skipped.
		return
	}

	outcome, errText := s.deliver(ctx, request, venueID)
	if recErr := s.ledger.Record(ctx, request.ID, venueID, outcome); recErr != nil {
		result.Failed = append(result.Failed, FailedVenue{VenueID: venueID, Error: recErr.Error()})
		if s.logg != nil {
			s.logg.Error(ctx, "recording delivery outcome failed", recErr)
		}
		return
	}

	if outcome.Status.IsSuccessful() {
		result.Sent = append(result.Sent, venueID)
	} else {
		result.Failed = append(result.Failed, FailedVenue{VenueID: venueID, Error: errText})
	}
}

// deliver renders and sends one message under the per-send timeout, mapping
// any failure to the outcome to record.
func (s *service) deliver(ctx context.Context, request *models.EventRequest, venueID uuid.UUID) (ledger.Outcome, string) {
	venue, err := s.directory.GetVenue(ctx, venueID)
	if err != nil {
		return failureOutcome(enums.DeliveryStatusFailed, "venue lookup failed: "+err.Error())
	}

	msg, err := s.renderer.Render(*venue, *request)
	if err != nil {
		return failureOutcome(enums.DeliveryStatusFailed, "render failed: "+err.Error())
	}

	sendCtx := ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	deliveryID, err := s.transport.Send(sendCtx, msg)
	elapsed := time.Since(start)

	if err != nil {
		status := mailer.Classify(err)
		s.observe(string(status), elapsed)
		return failureOutcome(status, err.Error())
	}

	s.observe("sent", elapsed)
	outcome := ledger.Outcome{Status: enums.DeliveryStatusSent}
	if deliveryID != "" {
		outcome.TransportDeliveryID = &deliveryID
	}
	return outcome, ""
}

// finishResult recomputes the request aggregate from the ledger, persists
// it, and attaches it to the dispatch result.
func (s *service) finishResult(ctx context.Context, requestID uuid.UUID, result *Result) (*Result, error) {
	agg, err := s.ledger.Aggregate(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := s.requests.UpdateAggregate(ctx, requestID, requests.Aggregate{
		Status:     agg.Status,
		SentCount:  agg.SentCount,
		LastSentAt: agg.LastSentAt,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist request aggregate")
	}

	result.Remaining = agg.PendingCount
	result.Broadcast = BroadcastSummary{
		Status:     agg.Status,
		SentCount:  agg.SentCount,
		LastSentAt: agg.LastSentAt,
	}
	return result, nil
}

func (s *service) observe(outcome string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveAttempt(outcome, elapsed)
}

func failureOutcome(status enums.DeliveryStatus, errText string) (ledger.Outcome, string) {
	return ledger.Outcome{Status: status, Error: &errText}, errText
}
