package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/venuecast/backend/pkg/enums"
)

// Venue is a directory entry for an email recipient. The dispatcher treats
// venues as read-only.
type Venue struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name             string         `gorm:"column:name;not null"`
	District         string         `gorm:"column:district;not null"`
	CapacitySeated   int            `gorm:"column:capacity_seated;not null;default:0"`
	CapacityStanding int            `gorm:"column:capacity_standing;not null;default:0"`
	ContactEmail     *string        `gorm:"column:contact_email"`
	Types            pq.StringArray `gorm:"column:types;type:text[]"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// HasContact reports whether the venue carries a usable contact address.
func (v Venue) HasContact() bool {
	return v.ContactEmail != nil && strings.TrimSpace(*v.ContactEmail) != ""
}

// HasType reports whether any of the venue's tags matches the given type.
func (v Venue) HasType(t enums.VenueType) bool {
	for _, tag := range v.Types {
		if tag == string(t) {
			return true
		}
	}
	return false
}

// HasAnyType reports whether the venue's tag set intersects the filter.
// An empty filter matches every venue.
func (v Venue) HasAnyType(filter []enums.VenueType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if v.HasType(t) {
			return true
		}
	}
	return false
}
