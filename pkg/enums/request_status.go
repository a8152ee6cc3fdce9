package enums

import "fmt"

// RequestStatus maps to the request_status enum in Postgres. It is derived
// from the request's delivery ledger and never set independently.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusPartial   RequestStatus = "partial"
	RequestStatusCompleted RequestStatus = "completed"
)

var validRequestStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusPartial,
	RequestStatusCompleted,
}

// IsValid checks whether the given status matches the canonical enum.
func (s RequestStatus) IsValid() bool {
	for _, candidate := range validRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// DeriveRequestStatus computes the broadcast status from ledger counts.
func DeriveRequestStatus(sentCount, pendingCount int64) RequestStatus {
	switch {
	case sentCount == 0:
		return RequestStatusPending
	case pendingCount == 0:
		return RequestStatusCompleted
	default:
		return RequestStatusPartial
	}
}

// ParseRequestStatus converts raw strings into RequestStatus.
func ParseRequestStatus(value string) (RequestStatus, error) {
	for _, candidate := range validRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid request status %q", value)
}
