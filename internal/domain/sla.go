package domain

import "time"

// SLATarget is a per-plan, per-severity pair of response and resolution limits.
type SLATarget struct {
	PlanID            string    `json:"plan_id"`
	Severity          Severity  `json:"severity"`
	ResponseMinutes   int       `json:"response_minutes"`
	ResolutionMinutes int       `json:"resolution_minutes"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultSLATargets is used when a plan has no target for a severity.
var DefaultSLATargets = map[Severity]SLATarget{
	SeverityP1: {Severity: SeverityP1, ResponseMinutes: 15, ResolutionMinutes: 240},
	SeverityP2: {Severity: SeverityP2, ResponseMinutes: 60, ResolutionMinutes: 480},
	SeverityP3: {Severity: SeverityP3, ResponseMinutes: 240, ResolutionMinutes: 1440},
	SeverityP4: {Severity: SeverityP4, ResponseMinutes: 480, ResolutionMinutes: 2880},
}

// GoNoGoDecision is the state of a readiness checklist item.
type GoNoGoDecision string

// Go/No-Go decisions.
const (
	GoNoGoPending GoNoGoDecision = "pending"
	GoNoGoGo      GoNoGoDecision = "go"
	GoNoGoNoGo    GoNoGoDecision = "no_go"
)

// IsValid checks if the decision is known.
func (d GoNoGoDecision) IsValid() bool {
	return d == GoNoGoPending || d == GoNoGoGo || d == GoNoGoNoGo
}

// GoNoGoItem is a readiness checklist entry gating plan execution.
type GoNoGoItem struct {
	ID        string         `json:"id"`
	PlanID    string         `json:"plan_id"`
	Title     string         `json:"title"`
	Owner     string         `json:"owner"`
	Decision  GoNoGoDecision `json:"decision"`
	DecidedBy string         `json:"decided_by,omitempty"`
	DecidedAt *time.Time     `json:"decided_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// SignoffStatus is the state of a hypercare exit approval.
type SignoffStatus string

// Sign-off statuses.
const (
	SignoffPending  SignoffStatus = "pending"
	SignoffApproved SignoffStatus = "approved"
	SignoffRejected SignoffStatus = "rejected"
)

// IsValid checks if the sign-off status is known.
func (s SignoffStatus) IsValid() bool {
	return s == SignoffPending || s == SignoffApproved || s == SignoffRejected
}

// HypercareSignoff records approval to leave hypercare.
type HypercareSignoff struct {
	ID        string        `json:"id"`
	PlanID    string        `json:"plan_id"`
	Approver  string        `json:"approver"`
	Status    SignoffStatus `json:"status"`
	Comment   string        `json:"comment,omitempty"`
	DecidedAt *time.Time    `json:"decided_at"`
	CreatedAt time.Time     `json:"created_at"`
}
