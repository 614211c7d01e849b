package escalation

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every escalation lookup failure.
var ErrNotFound = errors.New("not found")

// Escalation errors.
var (
	ErrPlanNotFound     = fmt.Errorf("plan %w", ErrNotFound)
	ErrIncidentNotFound = fmt.Errorf("incident %w", ErrNotFound)
	ErrRuleNotFound     = fmt.Errorf("escalation rule %w", ErrNotFound)
	ErrEventNotFound    = fmt.Errorf("escalation event %w", ErrNotFound)

	ErrDuplicateLevel   = errors.New("escalation level or order already defined for this severity")
	ErrIncidentResolved = errors.New("incident is already resolved")
	ErrInvalidRule      = errors.New("invalid escalation rule")
	ErrInvalidInput     = errors.New("invalid input")
	ErrLockNotAcquired  = errors.New("escalation lock not acquired")
)
