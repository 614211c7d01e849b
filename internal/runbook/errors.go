package runbook

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every runbook entity lookup failure.
var ErrNotFound = errors.New("not found")

// Runbook errors.
var (
	ErrPlanNotFound       = fmt.Errorf("plan %w", ErrNotFound)
	ErrScopeNotFound      = fmt.Errorf("scope %w", ErrNotFound)
	ErrWorkItemNotFound   = fmt.Errorf("work item %w", ErrNotFound)
	ErrDependencyNotFound = fmt.Errorf("dependency %w", ErrNotFound)
	ErrRehearsalNotFound  = fmt.Errorf("rehearsal %w", ErrNotFound)
	ErrGoNoGoItemNotFound = fmt.Errorf("go/no-go item %w", ErrNotFound)
	ErrSignoffNotFound    = fmt.Errorf("sign-off %w", ErrNotFound)

	ErrSelfDependency        = errors.New("work item cannot depend on itself")
	ErrDuplicateDependency   = errors.New("dependency already exists")
	ErrCycle                 = errors.New("dependency would create a cycle")
	ErrInvalidDependencyType = errors.New("invalid dependency type")
	ErrInvalidDecision       = errors.New("invalid decision")
	ErrPlanLive              = errors.New("plan is executing or in hypercare")
	ErrInvalidInput          = errors.New("invalid input")
)
