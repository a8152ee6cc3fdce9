package dispatch

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
)

// FailedVenue pairs a venue with the reason its attempt did not succeed.
type FailedVenue struct {
	VenueID uuid.UUID `json:"venueId"`
	Error   string    `json:"error"`
}

// BroadcastSummary is the ledger-derived request aggregate returned with
// every dispatch result.
type BroadcastSummary struct {
	Status     enums.RequestStatus `json:"status"`
	SentCount  int64               `json:"sentCount"`
	LastSentAt *time.Time          `json:"lastSentAt"`
}

// Result reports one dispatch call's per-venue outcomes. Venues whose rows
// were claimed by a concurrent operation appear in neither list.
type Result struct {
	Sent      []uuid.UUID      `json:"sent"`
	Failed    []FailedVenue    `json:"failed"`
	Remaining int64            `json:"remaining"`
	Broadcast BroadcastSummary `json:"broadcast"`
}

func newResult() *Result {
	return &Result{
		Sent:   []uuid.UUID{},
		Failed: []FailedVenue{},
	}
}

// MatchResult summarizes a match call: how many venues the criteria hit,
// how many ledger rows were newly created, and how many of the matched set
// lack a contact address.
type MatchResult struct {
	Matched int   `json:"matched"`
	Created int64 `json:"created"`
	Skipped int   `json:"skipped"`
}

// DeliveryView is the read-side projection of one ledger row.
type DeliveryView struct {
	VenueID             uuid.UUID            `json:"venueId"`
	Status              enums.DeliveryStatus `json:"status"`
	Error               *string              `json:"error,omitempty"`
	TransportDeliveryID *string              `json:"transportDeliveryId,omitempty"`
	SentAt              *time.Time           `json:"sentAt,omitempty"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

func newDeliveryView(row models.DeliveryLog) DeliveryView {
	return DeliveryView{
		VenueID:             row.VenueID,
		Status:              row.EmailStatus,
		Error:               row.EmailError,
		TransportDeliveryID: row.TransportDeliveryID,
		SentAt:              row.SentAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

// StatusReport combines the request aggregate with its per-venue rows.
type StatusReport struct {
	Status       enums.RequestStatus `json:"status"`
	SentCount    int64               `json:"sentCount"`
	PendingCount int64               `json:"pendingCount"`
	FailedCount  int64               `json:"failedCount"`
	SkippedCount int64               `json:"skippedCount"`
	LastSentAt   *time.Time          `json:"lastSentAt"`
	Deliveries   []DeliveryView      `json:"deliveries"`
}

// TypeCount reports how many of a request's matched venues carry a type tag.
// A venue with several tags counts once per tag.
type TypeCount struct {
	Type  enums.VenueType `json:"type"`
	Label string          `json:"label"`
	Count int             `json:"count"`
}

func countTypes(venueRows []models.Venue) []TypeCount {
	totals := make(map[enums.VenueType]int)
	for _, venue := range venueRows {
		for _, tag := range venue.Types {
			t, err := enums.ParseVenueType(tag)
			if err != nil {
				continue
			}
			totals[t]++
		}
	}

	counts := make([]TypeCount, 0, len(totals))
	for t, n := range totals {
		counts = append(counts, TypeCount{Type: t, Label: t.Label(), Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Type < counts[j].Type })
	return counts
}
