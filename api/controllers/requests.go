package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/venuecast/backend/api/responses"
	"github.com/venuecast/backend/api/validators"
	"github.com/venuecast/backend/internal/requests"
	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
	pkgerrors "github.com/venuecast/backend/pkg/errors"
	"github.com/venuecast/backend/pkg/logger"
)

type createRequestBody struct {
	Title              string  `json:"title" validate:"required,max=200"`
	Description        *string `json:"description,omitempty"`
	EventType          string  `json:"eventType" validate:"required,max=100"`
	EventDate          string  `json:"eventDate" validate:"required"`
	GuestCount         int     `json:"guestCount" validate:"required,gt=0"`
	LocationPreference *string `json:"locationPreference,omitempty"`
	Requirements       *string `json:"requirements,omitempty"`
	ContactName        string  `json:"contactName" validate:"required,max=200"`
	ContactEmail       string  `json:"contactEmail" validate:"required,email"`
	ContactPhone       *string `json:"contactPhone,omitempty"`
}

type requestView struct {
	ID                 uuid.UUID           `json:"id"`
	Title              string              `json:"title"`
	Description        *string             `json:"description,omitempty"`
	EventType          string              `json:"eventType"`
	EventDate          string              `json:"eventDate"`
	GuestCount         int                 `json:"guestCount"`
	LocationPreference *string             `json:"locationPreference,omitempty"`
	Requirements       *string             `json:"requirements,omitempty"`
	ContactName        string              `json:"contactName"`
	ContactEmail       string              `json:"contactEmail"`
	ContactPhone       *string             `json:"contactPhone,omitempty"`
	Status             enums.RequestStatus `json:"status"`
	SentCount          int64               `json:"sentCount"`
	LastSentAt         *time.Time          `json:"lastSentAt,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
}

func newRequestView(request *models.EventRequest) requestView {
	return requestView{
		ID:                 request.ID,
		Title:              request.Title,
		Description:        request.Description,
		EventType:          request.EventType,
		EventDate:          request.EventDate.Format("2006-01-02"),
		GuestCount:         request.GuestCount,
		LocationPreference: request.LocationPreference,
		Requirements:       request.Requirements,
		ContactName:        request.ContactName,
		ContactEmail:       request.ContactEmail,
		ContactPhone:       request.ContactPhone,
		Status:             request.Status,
		SentCount:          request.SentCount,
		LastSentAt:         request.LastSentAt,
		CreatedAt:          request.CreatedAt,
	}
}

// CreateRequest is the public organizer intake endpoint.
func CreateRequest(repo requests.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		eventDate, err := time.Parse("2006-01-02", body.EventDate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "eventDate must be YYYY-MM-DD"))
			return
		}

		request := &models.EventRequest{
			Title:              body.Title,
			Description:        body.Description,
			EventType:          body.EventType,
			EventDate:          eventDate,
			GuestCount:         body.GuestCount,
			LocationPreference: body.LocationPreference,
			Requirements:       body.Requirements,
			ContactName:        body.ContactName,
			ContactEmail:       body.ContactEmail,
			ContactPhone:       body.ContactPhone,
			Status:             enums.RequestStatusPending,
		}
		if err := repo.Create(r.Context(), request); err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create request"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRequestView(request))
	}
}

// GetRequest returns one request with its ledger-derived aggregate fields.
func GetRequest(repo requests.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := repo.Get(r.Context(), requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeNotFound, "request not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load request"))
			return
		}
		responses.WriteSuccess(w, newRequestView(request))
	}
}
