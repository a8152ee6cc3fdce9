package venues

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
)

// MatchCriteria narrows the directory to venues able to host a request.
type MatchCriteria struct {
	District   *string
	GuestCount int
	Types      []enums.VenueType
}

// Directory exposes read-only venue lookups. The dispatcher never mutates
// venue rows.
type Directory interface {
	GetVenue(ctx context.Context, id uuid.UUID) (*models.Venue, error)
	GetVenues(ctx context.Context, ids []uuid.UUID) ([]models.Venue, error)
	MatchVenues(ctx context.Context, criteria MatchCriteria) ([]models.Venue, error)
}

type directoryImpl struct {
	db *gorm.DB
}

// NewDirectory returns a venue directory bound to the provided database.
func NewDirectory(db *gorm.DB) Directory {
	return &directoryImpl{db: db}
}

func (d *directoryImpl) GetVenue(ctx context.Context, id uuid.UUID) (*models.Venue, error) {
	var venue models.Venue
	if err := d.db.WithContext(ctx).First(&venue, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &venue, nil
}

func (d *directoryImpl) GetVenues(ctx context.Context, ids []uuid.UUID) ([]models.Venue, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Venue
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *directoryImpl) MatchVenues(ctx context.Context, criteria MatchCriteria) ([]models.Venue, error) {
	query := d.db.WithContext(ctx).Model(&models.Venue{})
	if criteria.District != nil && *criteria.District != "" {
		query = query.Where("district = ?", *criteria.District)
	}
	if criteria.GuestCount > 0 {
		query = query.Where("capacity_seated >= ? OR capacity_standing >= ?", criteria.GuestCount, criteria.GuestCount)
	}

	var rows []models.Venue
	if err := query.Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(criteria.Types) == 0 {
		return rows, nil
	}

	// Type tags live in a text[] column; the intersection check stays in Go so
	// the same query runs against sqlite in tests.
	matched := rows[:0]
	for _, venue := range rows {
		if venue.HasAnyType(criteria.Types) {
			matched = append(matched, venue)
		}
	}
	return matched, nil
}
