package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/venuecast/backend/pkg/config"
)

// SendgridTransport implements Transport against the SendGrid v3 API.
type SendgridTransport struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

// NewSendgridTransport builds the production mail transport.
func NewSendgridTransport(cfg config.SendgridConfig) (*SendgridTransport, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if cfg.DefaultFrom == "" {
		return nil, fmt.Errorf("sendgrid from address is required")
	}
	return &SendgridTransport{
		client:   sendgrid.NewSendClient(cfg.APIKey),
		from:     cfg.DefaultFrom,
		fromName: cfg.FromName,
	}, nil
}

func (t *SendgridTransport) Send(ctx context.Context, msg Message) (string, error) {
	from := mail.NewEmail(t.fromName, t.from)
	to := mail.NewEmail(msg.ToName, msg.To)
	email := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := t.client.SendWithContext(ctx, email)
	if err != nil {
		return "", &SendError{Kind: KindFailed, Message: err.Error()}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &SendError{
			Kind:    classifyStatus(resp.StatusCode),
			Message: fmt.Sprintf("sendgrid responded %d: %s", resp.StatusCode, resp.Body),
		}
	}

	// SendGrid reports the provider-side id via the X-Message-Id header.
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

func classifyStatus(status int) Kind {
	// 406 is SendGrid's "recipient suppressed due to spam report"; bounce
	// suppression surfaces as 400 with a bounce body but the stable signal
	// is the suppression status codes.
	switch status {
	case http.StatusNotAcceptable:
		return KindComplained
	case http.StatusGone:
		return KindBounced
	default:
		return KindFailed
	}
}
