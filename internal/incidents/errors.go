package incidents

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every incident lookup failure.
var ErrNotFound = errors.New("not found")

// Incident errors.
var (
	ErrIncidentNotFound  = fmt.Errorf("incident %w", ErrNotFound)
	ErrPlanNotFound      = fmt.Errorf("plan %w", ErrNotFound)
	ErrWorkItemNotFound  = fmt.Errorf("work item %w", ErrNotFound)
	ErrSLATargetNotFound = fmt.Errorf("sla target %w", ErrNotFound)

	ErrAlreadyResolved = errors.New("incident is already resolved")
	ErrIncidentClosed  = errors.New("incident is closed")
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrInvalidInput    = errors.New("invalid input")
)
