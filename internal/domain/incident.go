package domain

import "time"

// Severity is an incident priority tier, P1 being the most severe.
type Severity string

// Severity tiers, most severe first.
const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// Severities lists severity tiers ordered from most to least severe.
var Severities = []Severity{SeverityP1, SeverityP2, SeverityP3, SeverityP4}

// IsValid checks if the severity is known.
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// Rank returns 1 for the most severe tier, increasing for lower tiers,
// and 0 for unknown values.
func (s Severity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i + 1
		}
	}
	return 0
}

// IncidentStatus represents the state of a post go-live incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
)

// IncidentStatuses lists every incident status.
var IncidentStatuses = []IncidentStatus{
	IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusResolved, IncidentStatusClosed,
}

var incidentTransitions = newTransitionTable(IncidentStatuses, map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:          {IncidentStatusInvestigating, IncidentStatusResolved, IncidentStatusClosed},
	IncidentStatusInvestigating: {IncidentStatusResolved, IncidentStatusClosed},
	IncidentStatusResolved:      {IncidentStatusClosed, IncidentStatusOpen},
	IncidentStatusClosed:        {IncidentStatusOpen},
})

// IsValid checks if the incident status is known.
func (s IncidentStatus) IsValid() bool {
	for _, known := range IncidentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the table allows moving to the target status.
func (s IncidentStatus) CanTransitionTo(to IncidentStatus) bool {
	return incidentTransitions.allowed(s, to)
}

// IsActive reports whether the incident still counts against its SLA.
func (s IncidentStatus) IsActive() bool {
	return s == IncidentStatusOpen || s == IncidentStatusInvestigating
}

// IsResolved checks if the status represents a resolved or closed incident.
func (s IncidentStatus) IsResolved() bool {
	return s == IncidentStatusResolved || s == IncidentStatusClosed
}

// Incident is a problem raised during execution or hypercare.
type Incident struct {
	ID                     string         `json:"id"`
	PlanID                 string         `json:"plan_id"`
	Code                   string         `json:"code"`
	Title                  string         `json:"title"`
	Description            string         `json:"description"`
	Severity               Severity       `json:"severity"`
	Status                 IncidentStatus `json:"status"`
	WorkItemID             *string        `json:"work_item_id,omitempty"`
	ReportedBy             string         `json:"reported_by"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
	LastActivityAt         time.Time      `json:"last_activity_at"`
	FirstResponseAt        *time.Time     `json:"first_response_at"`
	ResolvedAt             *time.Time     `json:"resolved_at"`
	ResolvedBy             string         `json:"resolved_by,omitempty"`
	Resolution             string         `json:"resolution,omitempty"`
	ResolutionMinutes      *int           `json:"resolution_minutes"`
	ClosedAt               *time.Time     `json:"closed_at"`
	ResponseDeadline       time.Time      `json:"response_deadline"`
	ResolutionDeadline     time.Time      `json:"resolution_deadline"`
	ResponseBreached       bool           `json:"response_breached"`
	ResolutionBreached     bool           `json:"resolution_breached"`
	CurrentEscalationLevel int            `json:"current_escalation_level"`
	EscalationCount        int            `json:"escalation_count"`
	LastEscalatedAt        *time.Time     `json:"last_escalated_at"`
}

// ApplyTransition sets the status and applies resolution side effects.
// Reopening clears resolution fields but never the breach latches.
func (i *Incident) ApplyTransition(to IncidentStatus, actor string, now time.Time) {
	switch to {
	case IncidentStatusResolved:
		if i.ResolvedAt == nil {
			i.ResolvedAt = timePtr(now)
			i.ResolvedBy = actor
			minutes := ElapsedMinutes(i.CreatedAt, now)
			i.ResolutionMinutes = &minutes
		}
	case IncidentStatusClosed:
		i.ClosedAt = timePtr(now)
	case IncidentStatusOpen:
		i.ResolvedAt = nil
		i.ResolvedBy = ""
		i.Resolution = ""
		i.ResolutionMinutes = nil
		i.ClosedAt = nil
	}
	i.Status = to
	i.UpdatedAt = now
	i.LastActivityAt = now
}

// EvaluateBreaches latches breach flags whose deadline has passed.
// Flags are never cleared. Returns which latches flipped on this call.
func (i *Incident) EvaluateBreaches(now time.Time) (response, resolution bool) {
	if i.Status.IsResolved() {
		return false, false
	}
	response = i.EvaluateResponseBreach(now)
	if !i.ResolutionBreached && now.After(i.ResolutionDeadline) {
		i.ResolutionBreached = true
		resolution = true
	}
	return response, resolution
}

// EvaluateResponseBreach latches only the response flag. It reports whether
// the latch flipped.
func (i *Incident) EvaluateResponseBreach(now time.Time) bool {
	if i.Status.IsResolved() || i.ResponseBreached || i.FirstResponseAt != nil {
		return false
	}
	if now.After(i.ResponseDeadline) {
		i.ResponseBreached = true
		return true
	}
	return false
}

// IsBreached reports whether any SLA latch is set.
func (i *Incident) IsBreached() bool {
	return i.ResponseBreached || i.ResolutionBreached
}

// LastActivity returns the most recent activity time, falling back to creation.
func (i *Incident) LastActivity() time.Time {
	if i.LastActivityAt.After(i.CreatedAt) {
		return i.LastActivityAt
	}
	return i.CreatedAt
}

// IncidentComment is an entry of an incident's audit trail.
type IncidentComment struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	IsSystem   bool      `json:"is_system"`
	CreatedAt  time.Time `json:"created_at"`
}
