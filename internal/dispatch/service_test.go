package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/venuecast/backend/internal/ledger"
	"github.com/venuecast/backend/internal/mailer"
	"github.com/venuecast/backend/internal/requests"
	"github.com/venuecast/backend/internal/venues"
	"github.com/venuecast/backend/pkg/config"
	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
	pkgerrors "github.com/venuecast/backend/pkg/errors"
)

func setupDispatchTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	venuesTable := `
CREATE TABLE IF NOT EXISTS venues (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  district TEXT NOT NULL,
  capacity_seated INTEGER NOT NULL DEFAULT 0,
  capacity_standing INTEGER NOT NULL DEFAULT 0,
  contact_email TEXT,
  types TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	eventRequests := `
CREATE TABLE IF NOT EXISTS event_requests (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT,
  event_type TEXT NOT NULL,
  event_date DATETIME NOT NULL,
  guest_count INTEGER NOT NULL DEFAULT 0,
  location_preference TEXT,
  requirements TEXT,
  contact_name TEXT NOT NULL,
  contact_email TEXT NOT NULL,
  contact_phone TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  sent_count INTEGER NOT NULL DEFAULT 0,
  last_sent_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	deliveryLogs := `
CREATE TABLE IF NOT EXISTS delivery_logs (
  id TEXT PRIMARY KEY,
  request_id TEXT NOT NULL,
  venue_id TEXT NOT NULL,
  email_status TEXT NOT NULL DEFAULT 'pending',
  email_error TEXT,
  transport_delivery_id TEXT,
  sent_at DATETIME,
  claimed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (request_id, venue_id)
);`
	require.NoError(t, db.Exec(venuesTable).Error)
	require.NoError(t, db.Exec(eventRequests).Error)
	require.NoError(t, db.Exec(deliveryLogs).Error)
	return db
}

type fakeTransport struct {
	mu     sync.Mutex
	fail   map[string]error
	calls  map[string]int
	onSend func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeTransport) failFor(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[address] = err
}

func (f *fakeTransport) healthy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]error)
}

func (f *fakeTransport) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

func (f *fakeTransport) Send(_ context.Context, msg mailer.Message) (string, error) {
	f.mu.Lock()
	f.calls[msg.To]++
	n := f.calls[msg.To]
	err := f.fail[msg.To]
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("fake-%s-%d", msg.To, n), nil
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type dispatchFixture struct {
	svc       Service
	db        *gorm.DB
	transport *fakeTransport
	ledger    ledger.Service
	requests  requests.Repository

	// district isolates this test's venues in the shared in-memory database.
	district string
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	db := setupDispatchTestDB(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)
	requestRepo := requests.NewRepository(db)
	transport := newFakeTransport()

	svc, err := NewService(ServiceParams{
		Ledger:    ledgerSvc,
		Requests:  requestRepo,
		Directory: venues.NewDirectory(db),
		Transport: transport,
		Renderer:  mailer.NewRenderer(),
		DB:        testTxRunner{db: db},
		Config: config.DispatchConfig{
			SendTimeout: time.Second,
			ClaimTTL:    5 * time.Minute,
		},
	})
	require.NoError(t, err)

	return &dispatchFixture{
		svc:       svc,
		db:        db,
		transport: transport,
		ledger:    ledgerSvc,
		requests:  requestRepo,
		district:  "district-" + uuid.NewString(),
	}
}

func (f *dispatchFixture) newVenue(t *testing.T, name string, email *string, types ...enums.VenueType) *models.Venue {
	t.Helper()

	tags := make(pq.StringArray, 0, len(types))
	for _, vt := range types {
		tags = append(tags, string(vt))
	}
	venue := &models.Venue{
		ID:               uuid.New(),
		Name:             name,
		District:         f.district,
		CapacitySeated:   100,
		CapacityStanding: 150,
		ContactEmail:     email,
		Types:            tags,
	}
	require.NoError(t, f.db.Create(venue).Error)
	return venue
}

func (f *dispatchFixture) newRequest(t *testing.T) *models.EventRequest {
	t.Helper()

	district := f.district
	request := &models.EventRequest{
		ID:                 uuid.New(),
		Title:              "Product Launch",
		EventType:          "corporate",
		EventDate:          time.Now().AddDate(0, 1, 0),
		GuestCount:         80,
		LocationPreference: &district,
		ContactName:        "Dana Reyes",
		ContactEmail:       "dana@example.com",
		Status:             enums.RequestStatusPending,
	}
	require.NoError(t, f.db.Create(request).Error)
	return request
}

func strPtr(s string) *string { return &s }

func (f *dispatchFixture) matchedVenues(t *testing.T, requestID uuid.UUID, count int) []*models.Venue {
	t.Helper()

	created := make([]*models.Venue, 0, count)
	for i := 0; i < count; i++ {
		venue := f.newVenue(t, fmt.Sprintf("Venue %c", 'A'+i), strPtr(fmt.Sprintf("venue-%d-%s@example.com", i, requestID)))
		created = append(created, venue)
	}
	_, err := f.svc.Match(context.Background(), requestID)
	require.NoError(t, err)
	return created
}

func TestMatchSeedsLedgerAndSkipsContactless(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	f.newVenue(t, "With Contact", strPtr("contact@example.com"))
	f.newVenue(t, "No Contact", nil)

	result, err := f.svc.Match(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, int64(2), result.Created)
	assert.Equal(t, 1, result.Skipped)

	// Matching again creates nothing new.
	result, err = f.svc.Match(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Matched)
	assert.Zero(t, result.Created)
}

func TestMatchHonorsDistrictAndCapacity(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	fit := f.newVenue(t, "Fits", strPtr("fits@example.com"))

	wrongDistrict := f.newVenue(t, "Elsewhere", strPtr("elsewhere@example.com"))
	require.NoError(t, f.db.Model(wrongDistrict).Update("district", "uptown").Error)

	tooSmall := f.newVenue(t, "Tiny", strPtr("tiny@example.com"))
	require.NoError(t, f.db.Model(tooSmall).
		Updates(map[string]any{"capacity_seated": 20, "capacity_standing": 30}).Error)

	result, err := f.svc.Match(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)

	rows, err := f.ledger.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, fit.ID, rows[0].VenueID)
}

func TestSendAllPartialFailure(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	matched := f.matchedVenues(t, request.ID, 5)

	f.transport.failFor(*matched[1].ContactEmail, &mailer.SendError{Kind: mailer.KindFailed, Message: "smtp 554"})
	f.transport.failFor(*matched[3].ContactEmail, &mailer.SendError{Kind: mailer.KindBounced, Message: "hard bounce"})

	result, err := f.svc.SendAll(ctx, request.ID, nil)
	require.NoError(t, err)
	assert.Len(t, result.Sent, 3)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, int64(2), result.Remaining)
	assert.Equal(t, enums.RequestStatusPartial, result.Broadcast.Status)
	assert.Equal(t, int64(3), result.Broadcast.SentCount)
	require.NotNil(t, result.Broadcast.LastSentAt)

	// The aggregate is persisted onto the request row.
	stored, err := f.requests.Get(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusPartial, stored.Status)
	assert.Equal(t, int64(3), stored.SentCount)
	require.NotNil(t, stored.LastSentAt)

	row, err := f.ledger.Get(ctx, request.ID, matched[3].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusBounced, row.EmailStatus)
	require.NotNil(t, row.EmailError)
	assert.Equal(t, "hard bounce", *row.EmailError)
}

func TestSendAllSurvivesCallerDisconnect(t *testing.T) {
	f := newDispatchFixture(t)

	request := f.newRequest(t)
	matched := f.matchedVenues(t, request.ID, 4)

	// The caller hangs up right after the first email goes out. The batch
	// must still run to completion and persist the aggregate.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	f.transport.onSend = func() { once.Do(cancel) }

	result, err := f.svc.SendAll(ctx, request.ID, nil)
	require.NoError(t, err)
	assert.Len(t, result.Sent, 4)
	assert.Empty(t, result.Failed)
	assert.Zero(t, result.Remaining)
	assert.Equal(t, enums.RequestStatusCompleted, result.Broadcast.Status)

	for i, venue := range matched {
		assert.Equal(t, 1, f.transport.callCount(*venue.ContactEmail), "venue %d", i)
	}

	stored, err := f.requests.Get(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusCompleted, stored.Status)
	assert.Equal(t, int64(4), stored.SentCount)
}

func TestResendFailedCompletesTheBroadcast(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	matched := f.matchedVenues(t, request.ID, 5)
	f.transport.failFor(*matched[0].ContactEmail, &mailer.SendError{Kind: mailer.KindFailed, Message: "timeout"})
	f.transport.failFor(*matched[4].ContactEmail, &mailer.SendError{Kind: mailer.KindFailed, Message: "timeout"})

	_, err := f.svc.SendAll(ctx, request.ID, nil)
	require.NoError(t, err)

	// Transport recovers; only the two failed venues are re-attempted.
	f.transport.healthy()
	result, err := f.svc.ResendFailed(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, result.Sent, 2)
	assert.Empty(t, result.Failed)
	assert.Zero(t, result.Remaining)
	assert.Equal(t, enums.RequestStatusCompleted, result.Broadcast.Status)
	assert.Equal(t, int64(5), result.Broadcast.SentCount)

	for i, venue := range matched {
		expected := 1
		if i == 0 || i == 4 {
			expected = 2
		}
		assert.Equal(t, expected, f.transport.callCount(*venue.ContactEmail), "venue %d", i)
	}
}

func TestSendAllTypeFilter(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	rooftop := f.newVenue(t, "Sky Deck", strPtr("sky@example.com"), enums.VenueTypeRooftop, enums.VenueTypeBar)
	gallery := f.newVenue(t, "White Cube", strPtr("cube@example.com"), enums.VenueTypeGallery)
	_, err := f.svc.Match(ctx, request.ID)
	require.NoError(t, err)

	result, err := f.svc.SendAll(ctx, request.ID, []enums.VenueType{enums.VenueTypeRooftop})
	require.NoError(t, err)
	require.Len(t, result.Sent, 1)
	assert.Equal(t, rooftop.ID, result.Sent[0])
	assert.Equal(t, int64(1), result.Remaining)

	row, err := f.ledger.Get(ctx, request.ID, gallery.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusPending, row.EmailStatus)
	assert.Zero(t, f.transport.callCount(*gallery.ContactEmail))
}

func TestSendAllIgnoresRowsClaimedElsewhere(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	matched := f.matchedVenues(t, request.ID, 3)

	// Simulate a concurrent operation holding one row mid-flight.
	claimed, err := f.ledger.Claim(ctx, request.ID, matched[1].ID)
	require.NoError(t, err)
	require.True(t, claimed)

	result, err := f.svc.SendAll(ctx, request.ID, nil)
	require.NoError(t, err)
	assert.Len(t, result.Sent, 2)
	assert.Empty(t, result.Failed, "a claim conflict is not a failure")
	assert.Zero(t, f.transport.callCount(*matched[1].ContactEmail))
}

func TestSendIsAnIdempotentResend(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	matched := f.matchedVenues(t, request.ID, 1)
	venue := matched[0]

	result, err := f.svc.Send(ctx, request.ID, venue.ID)
	require.NoError(t, err)
	require.Len(t, result.Sent, 1)

	// A manual resend after success is allowed and sends again.
	result, err = f.svc.Send(ctx, request.ID, venue.ID)
	require.NoError(t, err)
	require.Len(t, result.Sent, 1)
	assert.Equal(t, 2, f.transport.callCount(*venue.ContactEmail))
	assert.Equal(t, enums.RequestStatusCompleted, result.Broadcast.Status)
	assert.Equal(t, int64(1), result.Broadcast.SentCount)
}

func TestSendClaimConflictIsANoOp(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	matched := f.matchedVenues(t, request.ID, 1)
	venue := matched[0]

	claimed, err := f.ledger.Claim(ctx, request.ID, venue.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	result, err := f.svc.Send(ctx, request.ID, venue.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Sent)
	assert.Empty(t, result.Failed)
	assert.Zero(t, f.transport.callCount(*venue.ContactEmail))
}

func TestSendRejectsSkippedVenue(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	venue := f.newVenue(t, "No Contact", nil)
	_, err := f.svc.Match(ctx, request.ID)
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, request.ID, venue.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestSendUnknownRequestOrVenue(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	request := f.newRequest(t)
	_, err = f.svc.Send(ctx, request.ID, uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestStatusReportsAggregateAndRows(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	matched := f.matchedVenues(t, request.ID, 2)
	f.newVenue(t, "No Contact", nil)
	_, err := f.svc.Match(ctx, request.ID)
	require.NoError(t, err)

	f.transport.failFor(*matched[0].ContactEmail, &mailer.SendError{Kind: mailer.KindFailed, Message: "smtp 451"})
	_, err = f.svc.SendAll(ctx, request.ID, nil)
	require.NoError(t, err)

	report, err := f.svc.Status(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusPartial, report.Status)
	assert.Equal(t, int64(1), report.SentCount)
	assert.Equal(t, int64(1), report.PendingCount)
	assert.Equal(t, int64(1), report.FailedCount)
	assert.Equal(t, int64(1), report.SkippedCount)
	assert.Len(t, report.Deliveries, 3)

	byVenue := make(map[uuid.UUID]DeliveryView, len(report.Deliveries))
	for _, view := range report.Deliveries {
		byVenue[view.VenueID] = view
	}
	assert.Equal(t, enums.DeliveryStatusFailed, byVenue[matched[0].ID].Status)
	require.NotNil(t, byVenue[matched[0].ID].Error)
	assert.Equal(t, enums.DeliveryStatusSent, byVenue[matched[1].ID].Status)
}

func TestTypeCountsGroupsMatchedVenues(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	f.newVenue(t, "Sky Deck", strPtr("sky@example.com"), enums.VenueTypeRooftop, enums.VenueTypeBar)
	f.newVenue(t, "Harbor Bar", strPtr("harbor@example.com"), enums.VenueTypeBar)
	f.newVenue(t, "White Cube", strPtr("cube@example.com"), enums.VenueTypeGallery)
	_, err := f.svc.Match(ctx, request.ID)
	require.NoError(t, err)

	counts, err := f.svc.TypeCounts(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, counts, 3)

	byType := make(map[enums.VenueType]TypeCount, len(counts))
	for _, tc := range counts {
		byType[tc.Type] = tc
	}
	assert.Equal(t, 2, byType[enums.VenueTypeBar].Count)
	assert.Equal(t, 1, byType[enums.VenueTypeRooftop].Count)
	assert.Equal(t, 1, byType[enums.VenueTypeGallery].Count)
	assert.Equal(t, "Gallery", byType[enums.VenueTypeGallery].Label)
}

func TestDeleteRequestCascadesLedger(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	request := f.newRequest(t)
	f.matchedVenues(t, request.ID, 2)

	require.NoError(t, f.svc.DeleteRequest(ctx, request.ID))

	_, err := f.requests.Get(ctx, request.ID)
	require.Error(t, err)

	rows, err := f.ledger.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = f.svc.DeleteRequest(ctx, request.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
