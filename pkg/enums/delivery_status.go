package enums

import "fmt"

// DeliveryStatus maps to the delivery_status enum in Postgres. It tracks the
// lifecycle of one email delivery attempt per (request, venue) pair.
type DeliveryStatus string

const (
	// DeliveryStatusPending marks a row that has never been attempted.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusSending marks a row claimed by an in-flight attempt.
	DeliveryStatusSending DeliveryStatus = "sending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	// DeliveryStatusDelivered is set when the provider confirms delivery.
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
	DeliveryStatusBounced    DeliveryStatus = "bounced"
	DeliveryStatusComplained DeliveryStatus = "complained"
	// DeliveryStatusSkipped is terminal; set only at matching time for venues
	// lacking a usable contact address.
	DeliveryStatusSkipped DeliveryStatus = "skipped"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusSending,
	DeliveryStatusSent,
	DeliveryStatusDelivered,
	DeliveryStatusFailed,
	DeliveryStatusBounced,
	DeliveryStatusComplained,
	DeliveryStatusSkipped,
}

// ClaimableDeliveryStatuses lists every status a send attempt may claim from.
// A row mid-flight (sending) or permanently skipped is never claimable.
var ClaimableDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusFailed,
	DeliveryStatusBounced,
	DeliveryStatusComplained,
	DeliveryStatusSent,
	DeliveryStatusDelivered,
}

// RetriableDeliveryStatuses lists the statuses resend-failed targets.
var RetriableDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusFailed,
	DeliveryStatusBounced,
	DeliveryStatusComplained,
}

// IsValid checks whether the given status matches the canonical enum.
func (s DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSuccessful reports whether the status counts toward sentCount.
func (s DeliveryStatus) IsSuccessful() bool {
	return s == DeliveryStatusSent || s == DeliveryStatusDelivered
}

// IsRetriable reports whether a resend may target the status.
func (s DeliveryStatus) IsRetriable() bool {
	for _, candidate := range RetriableDeliveryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseDeliveryStatus converts raw strings into DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
