package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/venuecast/backend/internal/ledger"
	"github.com/venuecast/backend/internal/requests"
	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/logger"
)

// claimLedger is the slice of the ledger service the reaper needs.
type claimLedger interface {
	ReapStaleClaims(ctx context.Context, olderThan time.Duration) ([]models.DeliveryLog, error)
	Aggregate(ctx context.Context, requestID uuid.UUID) (*ledger.Aggregate, error)
}

type aggregateWriter interface {
	UpdateAggregate(ctx context.Context, id uuid.UUID, agg requests.Aggregate) error
}

// ClaimReaperJobParams configure the stale claim reaper.
type ClaimReaperJobParams struct {
	Logger   *logger.Logger
	Ledger   claimLedger
	Requests aggregateWriter
	ClaimTTL time.Duration
}

// NewClaimReaperJob builds the job that fails delivery claims abandoned by a
// crashed or hung dispatcher, then re-derives the affected request
// aggregates so their failed rows become resendable and visible.
func NewClaimReaperJob(params ClaimReaperJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Requests == nil {
		return nil, fmt.Errorf("requests repository required")
	}
	if params.ClaimTTL <= 0 {
		return nil, fmt.Errorf("claim ttl must be positive")
	}
	return &claimReaperJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		requests: params.Requests,
		claimTTL: params.ClaimTTL,
	}, nil
}

type claimReaperJob struct {
	logg     *logger.Logger
	ledger   claimLedger
	requests aggregateWriter
	claimTTL time.Duration
}

func (j *claimReaperJob) Name() string { return "delivery-claim-reaper" }

func (j *claimReaperJob) Run(ctx context.Context) error {
	reaped, err := j.ledger.ReapStaleClaims(ctx, j.claimTTL)
	if err != nil {
		return fmt.Errorf("reap stale claims: %w", err)
	}
	if len(reaped) == 0 {
		return nil
	}

	affected := make(map[uuid.UUID]struct{}, len(reaped))
	for _, row := range reaped {
		affected[row.RequestID] = struct{}{}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"reaped":   len(reaped),
		"requests": len(affected),
	})
	j.logg.Warn(logCtx, "failed abandoned delivery claims")

	var errs error
	for requestID := range affected {
		if err := j.refreshAggregate(ctx, requestID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("request %s: %w", requestID, err))
		}
	}
	return errs
}

func (j *claimReaperJob) refreshAggregate(ctx context.Context, requestID uuid.UUID) error {
	agg, err := j.ledger.Aggregate(ctx, requestID)
	if err != nil {
		return err
	}
	return j.requests.UpdateAggregate(ctx, requestID, requests.Aggregate{
		Status:     agg.Status,
		SentCount:  agg.SentCount,
		LastSentAt: agg.LastSentAt,
	})
}
