package live

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
)

// LivePlans lists plans in executing or hypercare.
type LivePlans interface {
	ListLivePlans(ctx context.Context) ([]*domain.Plan, error)
}

// Sweeper periodically runs breach and escalation evaluation for live plans.
// Reads still evaluate lazily; the sweeper only bounds how stale an unread
// plan can get.
type Sweeper struct {
	interval    time.Duration
	plans       LivePlans
	incidents   Incidents
	escalations Escalations

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper running every interval.
func NewSweeper(interval time.Duration, plans LivePlans, inc Incidents, esc Escalations) *Sweeper {
	return &Sweeper{
		interval:    interval,
		plans:       plans,
		incidents:   inc,
		escalations: esc,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx = ctxlog.With(ctx, "component", "sweeper")
	ctxlog.FromContext(ctx).Info("starting escalation sweeper", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	ctxlog.FromContext(context.Background()).Info("escalation sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every live plan once. Failures are logged per plan.
func (s *Sweeper) Sweep(ctx context.Context) {
	plans, err := s.plans.ListLivePlans(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Error("failed to list live plans", "error", err)
		return
	}

	for _, plan := range plans {
		planCtx := ctxlog.With(ctx, "plan_id", plan.ID, "plan_code", plan.Code)
		logger := ctxlog.FromContext(planCtx)

		breached, err := s.incidents.EvaluateBreaches(planCtx, plan.ID)
		if err != nil {
			logger.Error("breach sweep failed", "error", err)
			continue
		}
		events, err := s.escalations.Evaluate(planCtx, plan.ID)
		if err != nil {
			logger.Error("escalation sweep failed", "error", err)
			continue
		}
		if len(breached) > 0 || len(events) > 0 {
			logger.Info("sweep evaluated plan",
				"new_breaches", len(breached),
				"new_escalations", len(events),
			)
		}
	}
}
