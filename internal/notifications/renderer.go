package notifications

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Templates are named <channel>_<message type>.tmpl.
//
//go:embed templates/*.tmpl
var templatesFS embed.FS

var titleCaser = cases.Title(language.English)

var templateFuncs = template.FuncMap{
	"title":          func(s string) string { return titleCaser.String(s) },
	"upper":          strings.ToUpper,
	"humanize":       func(s string) string { return strings.ReplaceAll(s, "_", " ") },
	"formatTime":     formatTime,
	"formatDuration": formatDuration,
	"severityEmoji":  severityEmoji,
}

// Renderer turns escalation payloads into channel-specific text.
type Renderer struct {
	set *template.Template
}

// NewRenderer parses the embedded templates and checks that every channel
// has a template for every message type.
func NewRenderer() (*Renderer, error) {
	set, err := template.New("notifications").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := &Renderer{set: set}
	for _, channel := range []domain.ChannelType{domain.ChannelTypeMattermost, domain.ChannelTypeSlack} {
		for _, msg := range MessageTypes {
			if set.Lookup(templateName(channel, msg)) == nil {
				return nil, fmt.Errorf("missing template %s", templateName(channel, msg))
			}
		}
	}
	return r, nil
}

func templateName(channel domain.ChannelType, msg MessageType) string {
	return fmt.Sprintf("%s_%s.tmpl", channel, msg)
}

// Render returns the subject line and body of payload for channel.
func (r *Renderer) Render(channel domain.ChannelType, payload EscalationPayload) (subject, body string, err error) {
	name := templateName(channel, payload.MessageType)
	tmpl := r.set.Lookup(name)
	if tmpl == nil {
		return "", "", fmt.Errorf("no template %s", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", name, err)
	}

	subject = fmt.Sprintf("[%s L%d] %s %s", payload.Severity, payload.Level, payload.IncidentCode, payload.Title)
	return subject, strings.TrimSpace(sb.String()), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

// formatDuration renders how long an incident has been open, e.g. "2h 30m".
// Seconds are shown only below one minute; days appear during hypercare.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}

var severityEmojis = map[domain.Severity]string{
	domain.SeverityP1: "🔴",
	domain.SeverityP2: "🟠",
	domain.SeverityP3: "🟡",
}

func severityEmoji(severity string) string {
	if e, ok := severityEmojis[domain.Severity(severity)]; ok {
		return e
	}
	return "⚪"
}
