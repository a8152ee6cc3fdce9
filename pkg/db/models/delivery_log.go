package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/venuecast/backend/pkg/enums"
)

// DeliveryLog tracks one (request, venue) pair's delivery attempt lifecycle.
// Exactly one row exists per pair, created when the request is matched; rows
// are only ever updated afterwards, and removed when the parent request is
// deleted.
type DeliveryLog struct {
	ID                  uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RequestID           uuid.UUID            `gorm:"column:request_id;type:uuid;not null;uniqueIndex:ux_delivery_logs_request_venue"`
	VenueID             uuid.UUID            `gorm:"column:venue_id;type:uuid;not null;uniqueIndex:ux_delivery_logs_request_venue"`
	EmailStatus         enums.DeliveryStatus `gorm:"column:email_status;type:delivery_status;not null;default:'pending'"`
	EmailError          *string              `gorm:"column:email_error"`
	TransportDeliveryID *string              `gorm:"column:transport_delivery_id"`
	SentAt              *time.Time           `gorm:"column:sent_at"`
	ClaimedAt           *time.Time           `gorm:"column:claimed_at"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
