package domain

import "time"

// TriggerType names the elapsed-time condition of an escalation rule.
type TriggerType string

// Escalation trigger types.
const (
	TriggerNoResponse   TriggerType = "no_response"
	TriggerNoUpdate     TriggerType = "no_update"
	TriggerNoResolution TriggerType = "no_resolution"
)

// IsValid checks if the trigger type is known.
func (t TriggerType) IsValid() bool {
	return t == TriggerNoResponse || t == TriggerNoUpdate || t == TriggerNoResolution
}

// ChannelType represents a notification channel type.
type ChannelType string

// Channel types.
const (
	ChannelTypeMattermost ChannelType = "mattermost"
	ChannelTypeSlack      ChannelType = "slack"
)

// IsValid checks if the channel type is known.
func (c ChannelType) IsValid() bool {
	return c == ChannelTypeMattermost || c == ChannelTypeSlack
}

// EscalationRule is one level of a plan's escalation policy for a severity.
type EscalationRule struct {
	ID                  string      `json:"id"`
	PlanID              string      `json:"plan_id"`
	Severity            Severity    `json:"severity"`
	Level               int         `json:"level"`
	LevelOrder          int         `json:"level_order"`
	TriggerType         TriggerType `json:"trigger_type"`
	TriggerAfterMinutes int         `json:"trigger_after_minutes"`
	NotifyChannel       ChannelType `json:"notify_channel,omitempty"`
	NotifyTarget        string      `json:"notify_target,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Triggered evaluates the rule's condition for the incident at now.
func (r *EscalationRule) Triggered(inc *Incident, now time.Time) bool {
	threshold := time.Duration(r.TriggerAfterMinutes) * time.Minute
	switch r.TriggerType {
	case TriggerNoResponse:
		return inc.FirstResponseAt == nil && now.Sub(inc.CreatedAt) >= threshold
	case TriggerNoUpdate:
		return now.Sub(inc.LastActivity()) >= threshold
	case TriggerNoResolution:
		return inc.Status.IsActive() && now.Sub(inc.CreatedAt) >= threshold
	}
	return false
}

// EscalationEvent is an append-only record of an incident reaching a level.
type EscalationEvent struct {
	ID             string      `json:"id"`
	IncidentID     string      `json:"incident_id"`
	RuleID         *string     `json:"rule_id"`
	IsManual       bool        `json:"is_manual"`
	Level          int         `json:"level"`
	TriggerType    TriggerType `json:"trigger_type,omitempty"`
	Target         string      `json:"target,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	CreatedBy      string      `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
}

// RecordEscalation updates the incident's escalation counters.
func (i *Incident) RecordEscalation(level int, now time.Time) {
	if level > i.CurrentEscalationLevel {
		i.CurrentEscalationLevel = level
	}
	i.EscalationCount++
	i.LastEscalatedAt = timePtr(now)
	i.UpdatedAt = now
}
