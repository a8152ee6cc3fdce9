package enums

import "fmt"

// VenueType tags a venue with the event formats it hosts. A venue may carry
// several tags.
type VenueType string

const (
	VenueTypeGallery    VenueType = "gallery"
	VenueTypeRestaurant VenueType = "restaurant"
	VenueTypeRooftop    VenueType = "rooftop"
	VenueTypeLoft       VenueType = "loft"
	VenueTypeBar        VenueType = "bar"
	VenueTypeStudio     VenueType = "studio"
	VenueTypeHall       VenueType = "hall"
	VenueTypeGarden     VenueType = "garden"
)

var venueTypeLabels = map[VenueType]string{
	VenueTypeGallery:    "Gallery",
	VenueTypeRestaurant: "Restaurant",
	VenueTypeRooftop:    "Rooftop",
	VenueTypeLoft:       "Loft",
	VenueTypeBar:        "Bar",
	VenueTypeStudio:     "Studio",
	VenueTypeHall:       "Event Hall",
	VenueTypeGarden:     "Garden",
}

// IsValid checks whether the given type matches the canonical enum.
func (v VenueType) IsValid() bool {
	_, ok := venueTypeLabels[v]
	return ok
}

// Label returns the operator-facing display name for the type.
func (v VenueType) Label() string {
	if label, ok := venueTypeLabels[v]; ok {
		return label
	}
	return string(v)
}

// ParseVenueType converts raw strings into VenueType.
func ParseVenueType(value string) (VenueType, error) {
	candidate := VenueType(value)
	if !candidate.IsValid() {
		return "", fmt.Errorf("invalid venue type %q", value)
	}
	return candidate, nil
}
