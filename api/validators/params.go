package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/venuecast/backend/pkg/enums"
	pkgerrors "github.com/venuecast/backend/pkg/errors"
)

// ParseUUIDParam reads a chi URL parameter as a UUID.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid identifier").
			WithDetails(map[string]any{"param": name})
	}
	return id, nil
}

// ParseVenueTypes converts the optional type-filter strings into the closed
// enum, rejecting unknown tags.
func ParseVenueTypes(values []string) ([]enums.VenueType, error) {
	if len(values) == 0 {
		return nil, nil
	}
	parsed := make([]enums.VenueType, 0, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		venueType, err := enums.ParseVenueType(value)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid venue type").
				WithDetails(map[string]any{"field": "venueTypes", "value": value})
		}
		parsed = append(parsed, venueType)
	}
	return parsed, nil
}
