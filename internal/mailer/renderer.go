package mailer

import (
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/venuecast/backend/pkg/db/models"
)

// Renderer produces the notification email for one (venue, request) pair.
// Rendering is a pure function of its inputs.
type Renderer interface {
	Render(venue models.Venue, request models.EventRequest) (Message, error)
}

type templateRenderer struct {
	html *template.Template
	text *texttemplate.Template
}

// NewRenderer builds the default template renderer.
func NewRenderer() Renderer {
	return &templateRenderer{
		html: template.Must(template.New("html").Parse(htmlBody)),
		text: texttemplate.Must(texttemplate.New("text").Parse(textBody)),
	}
}

type templateData struct {
	VenueName    string
	ContactName  string
	Title        string
	EventType    string
	EventDate    string
	GuestCount   int
	District     string
	Requirements string
	ContactEmail string
	ContactPhone string
}

func (r *templateRenderer) Render(venue models.Venue, request models.EventRequest) (Message, error) {
	if !venue.HasContact() {
		return Message{}, fmt.Errorf("venue %s has no contact address", venue.ID)
	}

	data := templateData{
		VenueName:    venue.Name,
		ContactName:  request.ContactName,
		Title:        request.Title,
		EventType:    request.EventType,
		EventDate:    request.EventDate.Format("Monday, 2 January 2006"),
		GuestCount:   request.GuestCount,
		District:     venue.District,
		ContactEmail: request.ContactEmail,
	}
	if request.Requirements != nil {
		data.Requirements = *request.Requirements
	}
	if request.ContactPhone != nil {
		data.ContactPhone = *request.ContactPhone
	}

	var htmlBuf, textBuf strings.Builder
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	if err := r.text.Execute(&textBuf, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}

	return Message{
		To:      *venue.ContactEmail,
		ToName:  venue.Name,
		Subject: subjectLine(request),
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}

func subjectLine(request models.EventRequest) string {
	return fmt.Sprintf("New event request: %s (%s, %d guests)",
		request.Title, request.EventDate.Format("2 Jan 2006"), request.GuestCount)
}

// Keeping the templates inline avoids a runtime asset dependency; the bodies
// are short enough that a template directory would be overhead.
const htmlBody = `<html>
<body>
<p>Hello {{.VenueName}},</p>
<p>{{.ContactName}} is looking for a venue for <strong>{{.Title}}</strong>.</p>
<ul>
<li>Type: {{.EventType}}</li>
<li>Date: {{.EventDate}}</li>
<li>Guests: {{.GuestCount}}</li>
{{if .Requirements}}<li>Requirements: {{.Requirements}}</li>{{end}}
</ul>
<p>Reply directly to {{.ContactEmail}}{{if .ContactPhone}} or call {{.ContactPhone}}{{end}} if your venue is available.</p>
<p>— VenueCast</p>
</body>
</html>`

const textBody = `Hello {{.VenueName}},

{{.ContactName}} is looking for a venue for "{{.Title}}".

Type: {{.EventType}}
Date: {{.EventDate}}
Guests: {{.GuestCount}}
{{if .Requirements}}Requirements: {{.Requirements}}
{{end}}
Reply directly to {{.ContactEmail}}{{if .ContactPhone}} or call {{.ContactPhone}}{{end}} if your venue is available.

- VenueCast`
