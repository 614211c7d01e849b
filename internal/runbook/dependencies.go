package runbook

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/graph"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
	"github.com/bissquit/cutover-garden/internal/pkg/metrics"
)

// AddDependencyInput holds data for creating a dependency edge.
type AddDependencyInput struct {
	PlanID        string
	PredecessorID string
	SuccessorID   string
	Type          domain.DependencyType
	LagMinutes    int
}

// CriticalPath is the result of a critical path calculation.
type CriticalPath struct {
	PlanID               string   `json:"plan_id"`
	WorkItemIDs          []string `json:"work_item_ids"`
	Codes                []string `json:"codes"`
	TotalDurationMinutes int      `json:"total_duration_minutes"`
}

// AddDependency validates and stores a predecessor -> successor edge.
// The plan row is locked so concurrent insertions for one plan serialise
// and the cycle check always sees every committed edge.
func (s *Service) AddDependency(ctx context.Context, input AddDependencyInput) (*domain.Dependency, error) {
	if input.PredecessorID == input.SuccessorID {
		return nil, ErrSelfDependency
	}
	if input.Type == "" {
		input.Type = domain.DependencyFinishToStart
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDependencyType, input.Type)
	}

	var dep *domain.Dependency
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetPlanForUpdate(ctx, input.PlanID); err != nil {
			return err
		}

		pred, err := planWorkItem(ctx, tx, input.PlanID, input.PredecessorID)
		if err != nil {
			return err
		}
		succ, err := planWorkItem(ctx, tx, input.PlanID, input.SuccessorID)
		if err != nil {
			return err
		}

		g, _, err := loadGraph(ctx, tx, input.PlanID)
		if err != nil {
			return err
		}
		if err := g.CheckEdge(pred.ID, succ.ID); err != nil {
			return graphError(err)
		}

		dep = &domain.Dependency{
			PlanID:        input.PlanID,
			PredecessorID: pred.ID,
			SuccessorID:   succ.ID,
			Type:          input.Type,
			LagMinutes:    input.LagMinutes,
			CreatedAt:     s.clock.Now(),
		}
		return tx.CreateDependency(ctx, dep)
	})
	if err != nil {
		return nil, fmt.Errorf("add dependency: %w", err)
	}

	ctxlog.FromContext(ctx).Info("dependency added",
		"plan_id", dep.PlanID,
		"predecessor_id", dep.PredecessorID,
		"successor_id", dep.SuccessorID,
		"type", dep.Type,
	)
	return dep, nil
}

// planWorkItem loads a work item of planID. Items of other plans are reported
// exactly like missing ones.
func planWorkItem(ctx context.Context, tx Repository, planID, id string) (*domain.WorkItem, error) {
	item, err := tx.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.PlanID != planID {
		return nil, ErrWorkItemNotFound
	}
	return item, nil
}

// ListDependencies returns all edges of the plan.
func (s *Service) ListDependencies(ctx context.Context, planID string) ([]*domain.Dependency, error) {
	if _, err := s.repo.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return s.repo.ListDependencies(ctx, planID)
}

// RemoveDependency deletes an edge of the plan.
func (s *Service) RemoveDependency(ctx context.Context, planID, id string) error {
	return s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetPlanForUpdate(ctx, planID); err != nil {
			return err
		}
		dep, err := tx.GetDependency(ctx, id)
		if err != nil {
			return err
		}
		if dep.PlanID != planID {
			return ErrDependencyNotFound
		}
		return tx.DeleteDependency(ctx, id)
	})
}

// CalculateCriticalPath recomputes the longest planned-duration chain of the
// plan and rewrites every work item's critical path flag.
func (s *Service) CalculateCriticalPath(ctx context.Context, planID string) (*CriticalPath, error) {
	var result *CriticalPath
	var code string

	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		plan, err := tx.GetPlanForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		code = plan.Code

		g, items, err := loadGraph(ctx, tx, planID)
		if err != nil {
			return err
		}
		path, err := g.CriticalPath()
		if err != nil {
			return graphError(err)
		}

		byID := make(map[string]*domain.WorkItem, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		codes := make([]string, 0, len(path.IDs))
		for _, id := range path.IDs {
			codes = append(codes, byID[id].Code)
		}

		result = &CriticalPath{
			PlanID:               planID,
			WorkItemIDs:          append([]string{}, path.IDs...),
			Codes:                codes,
			TotalDurationMinutes: path.TotalDuration,
		}
		return tx.SetCriticalPath(ctx, planID, path.IDs)
	})
	if err != nil {
		return nil, fmt.Errorf("calculate critical path: %w", err)
	}

	metrics.CriticalPathMinutes.WithLabelValues(code).Set(float64(result.TotalDurationMinutes))
	ctxlog.FromContext(ctx).Info("critical path calculated",
		"plan_id", planID,
		"items", len(result.WorkItemIDs),
		"total_minutes", result.TotalDurationMinutes,
	)
	return result, nil
}

// loadGraph builds the plan's dependency graph. Nodes are ranked by sequence
// and weighted by planned duration.
func loadGraph(ctx context.Context, repo Repository, planID string) (*graph.Graph, []*domain.WorkItem, error) {
	items, err := repo.ListWorkItems(ctx, planID)
	if err != nil {
		return nil, nil, fmt.Errorf("list work items: %w", err)
	}
	deps, err := repo.ListDependencies(ctx, planID)
	if err != nil {
		return nil, nil, fmt.Errorf("list dependencies: %w", err)
	}
	g, err := BuildGraph(items, deps)
	if err != nil {
		return nil, nil, err
	}
	return g, items, nil
}

// BuildGraph builds a dependency graph from stored work items and edges.
func BuildGraph(items []*domain.WorkItem, deps []*domain.Dependency) (*graph.Graph, error) {
	g := graph.New(len(items))
	for _, it := range items {
		if _, err := g.AddNode(it.ID, it.Sequence, it.PlannedDurationMinutes); err != nil {
			return nil, fmt.Errorf("build graph: %w", err)
		}
	}
	for _, d := range deps {
		if err := g.LoadEdge(d.PredecessorID, d.SuccessorID); err != nil {
			return nil, fmt.Errorf("build graph: %w", err)
		}
	}
	return g, nil
}

func graphError(err error) error {
	switch {
	case errors.Is(err, graph.ErrSelfLoop):
		return ErrSelfDependency
	case errors.Is(err, graph.ErrDuplicateEdge):
		return ErrDuplicateDependency
	case errors.Is(err, graph.ErrCycle):
		return ErrCycle
	case errors.Is(err, graph.ErrUnknownNode):
		return ErrWorkItemNotFound
	}
	return err
}
