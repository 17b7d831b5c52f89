package notification

import (
	"bytes"
	"encoding/json"
	"html/template"
	"time"
	"unicode/utf8"

	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/severity"
	"github.com/k3a/html2text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Length limits of the short message per channel.
const (
	smsLimit  = 160
	pushLimit = 240
)

var severityColors = map[severity.Level]string{
	severity.Critical: "#b71c1c",
	severity.High:     "#e65100",
	severity.Medium:   "#f9a825",
	severity.Warning:  "#fbc02d",
	severity.Low:      "#1565c0",
	severity.Info:     "#546e7a",
}

// RenderContext is the input of a Renderer. Enrich fills the derived fields.
type RenderContext struct {
	RequestID  string
	UserID     string
	TenantID   string
	IncidentID string
	Severity   severity.Level
	Title      string
	Message    string
	Data       map[string]any
	Timestamp  time.Time

	SeverityLabel string
	SeverityColor string
	FormattedTime string
	DataJSON      string
}

// Renderer formats a notification for a channel.
type Renderer interface {
	Render(ch Channel, rc RenderContext) (Rendered, error)
}

// Enrich derives display fields: severity label and color, formatted
// timestamp and the JSON form of Data.
func Enrich(rc RenderContext) RenderContext {
	if rc.Timestamp.IsZero() {
		rc.Timestamp = time.Now()
	}
	rc.SeverityLabel = cases.Title(language.English).String(string(rc.Severity))
	rc.SeverityColor = severityColors[rc.Severity]
	if rc.SeverityColor == "" {
		rc.SeverityColor = severityColors[severity.Info]
	}
	rc.FormattedTime = rc.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")
	if len(rc.Data) > 0 {
		if b, err := json.MarshalIndent(rc.Data, "", "  "); err == nil {
			rc.DataJSON = string(b)
		}
	}
	return rc
}

var htmlTemplate = template.Must(template.New("notification").Parse(
	`<h2 style="color:{{.SeverityColor}}">[{{.SeverityLabel}}] {{.Title}}</h2>
<p>{{.Message}}</p>
<p><small>{{.FormattedTime}}</small></p>
{{if .DataJSON}}<pre>{{.DataJSON}}</pre>{{end}}`))

// DefaultRenderer renders an HTML body and derives plain text from it.
type DefaultRenderer struct{}

// Render implements Renderer.
func (DefaultRenderer) Render(ch Channel, rc RenderContext) (Rendered, error) {
	if !ch.Valid() {
		return Rendered{}, errors.Newf("cannot render for unknown channel %q", ch).
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	if rc.SeverityLabel == "" {
		rc = Enrich(rc)
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, rc); err != nil {
		return Rendered{}, errors.New(err).
			Component("notification").
			Category(errors.CategoryInternal).
			Build()
	}
	htmlBody := buf.String()
	text := html2text.HTML2TextWithOptions(htmlBody, html2text.WithUnixLineBreaks())
	subject := "[" + rc.SeverityLabel + "] " + rc.Title
	short := subject
	if rc.Message != "" {
		short += ": " + rc.Message
	}

	switch ch {
	case ChannelEmail:
		return Rendered{Subject: subject, Body: text, HTMLBody: htmlBody, ShortMessage: truncate(short, pushLimit)}, nil
	case ChannelSMS:
		s := truncate(short, smsLimit)
		return Rendered{Subject: subject, Body: s, ShortMessage: s}, nil
	case ChannelPush:
		s := truncate(short, pushLimit)
		return Rendered{Subject: subject, Body: s, ShortMessage: s}, nil
	default:
		return Rendered{Subject: subject, Body: text, ShortMessage: truncate(short, pushLimit)}, nil
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
