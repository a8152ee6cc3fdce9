package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/venuecast/backend/pkg/enums"
)

// EventRequest is the broadcastable intake record describing an event and the
// criteria used to match venues. Status, SentCount, and LastSentAt are
// derived from the delivery ledger after every recorded write.
type EventRequest struct {
	ID                 uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Title              string              `gorm:"column:title;not null"`
	Description        *string             `gorm:"column:description"`
	EventType          string              `gorm:"column:event_type;not null"`
	EventDate          time.Time           `gorm:"column:event_date;not null"`
	GuestCount         int                 `gorm:"column:guest_count;not null;default:0"`
	LocationPreference *string             `gorm:"column:location_preference"`
	Requirements       *string             `gorm:"column:requirements"`
	ContactName        string              `gorm:"column:contact_name;not null"`
	ContactEmail       string              `gorm:"column:contact_email;not null"`
	ContactPhone       *string             `gorm:"column:contact_phone"`
	Status             enums.RequestStatus `gorm:"column:status;type:request_status;not null;default:'pending'"`
	SentCount          int64               `gorm:"column:sent_count;not null;default:0"`
	LastSentAt         *time.Time          `gorm:"column:last_sent_at"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
