package mailer

import (
	"context"
	"errors"

	"github.com/venuecast/backend/pkg/enums"
)

// Message is one rendered notification email.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Transport delivers a message through the external mail provider and
// returns the provider's delivery id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Kind distinguishes provider-reported failure classes.
type Kind string

const (
	KindFailed     Kind = "failed"
	KindBounced    Kind = "bounced"
	KindComplained Kind = "complained"
)

// SendError carries the provider failure class alongside the message.
type SendError struct {
	Kind    Kind
	Message string
}

func (e *SendError) Error() string {
	return e.Message
}

// Classify maps a transport error onto the delivery status to record.
// Unclassified errors (timeouts, network, unknown provider responses)
// record as plain failures.
func Classify(err error) enums.DeliveryStatus {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		switch sendErr.Kind {
		case KindBounced:
			return enums.DeliveryStatusBounced
		case KindComplained:
			return enums.DeliveryStatusComplained
		}
	}
	return enums.DeliveryStatusFailed
}
