// Package notifications delivers escalation notices to chat channels on a
// best-effort basis: a bounded in-memory queue drained by worker goroutines.
package notifications

import (
	"strings"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/escalation"
)

// MessageType defines the type of notification.
type MessageType string

// Message types.
const (
	MessageTypeEscalation MessageType = "escalation" // rule-driven escalation
	MessageTypeManual     MessageType = "manual"     // manual escalation
)

// MessageTypes lists every message type with a template per channel.
var MessageTypes = []MessageType{MessageTypeEscalation, MessageTypeManual}

// EscalationPayload contains data for rendering an escalation notice.
type EscalationPayload struct {
	MessageType  MessageType   `json:"message_type"`
	IncidentID   string        `json:"incident_id"`
	IncidentCode string        `json:"incident_code"`
	Title        string        `json:"title"`
	Severity     string        `json:"severity"`
	Status       string        `json:"status"`
	Level        int           `json:"level"`
	Trigger      string        `json:"trigger,omitempty"`
	Target       string        `json:"target,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	EscalatedBy  string        `json:"escalated_by,omitempty"`
	OpenFor      time.Duration `json:"open_for"`
	EscalatedAt  time.Time     `json:"escalated_at"`
	IncidentURL  string        `json:"incident_url,omitempty"`
}

// NewEscalationPayload builds the payload of a committed escalation event.
func NewEscalationPayload(n escalation.Notification, baseURL string) EscalationPayload {
	ev, inc := n.Event, n.Incident

	p := EscalationPayload{
		MessageType:  MessageTypeEscalation,
		IncidentID:   inc.ID,
		IncidentCode: inc.Code,
		Title:        inc.Title,
		Severity:     string(inc.Severity),
		Status:       string(inc.Status),
		Level:        ev.Level,
		Trigger:      string(ev.TriggerType),
		Target:       ev.Target,
		Notes:        ev.Notes,
		OpenFor:      ev.CreatedAt.Sub(inc.CreatedAt),
		EscalatedAt:  ev.CreatedAt,
		IncidentURL:  incidentURL(baseURL, inc.ID),
	}
	if ev.IsManual {
		p.MessageType = MessageTypeManual
		p.EscalatedBy = ev.CreatedBy
	}
	return p
}

func incidentURL(baseURL, incidentID string) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/incidents/" + incidentID
}

// resolveChannel picks the delivery channel: the rule's channel, else the
// configured default.
func resolveChannel(n escalation.Notification, fallback domain.ChannelType) domain.ChannelType {
	if n.Channel != "" {
		return n.Channel
	}
	return fallback
}
