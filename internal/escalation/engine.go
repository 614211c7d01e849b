// Package escalation evaluates per-severity escalation rules against open
// incidents and records escalation events exactly once per level.
package escalation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/pkg/clock"
	"github.com/bissquit/cutover-garden/internal/pkg/ctxlog"
	"github.com/bissquit/cutover-garden/internal/pkg/metrics"
)

// Notification is handed to the Notifier after an event is committed.
type Notification struct {
	Event    *domain.EscalationEvent
	Incident *domain.Incident
	Channel  domain.ChannelType
}

// Notifier delivers escalation notifications. Implementations must not
// block; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

// Config holds engine settings.
type Config struct {
	RuleCacheTTL time.Duration
	// Shared is set when several replicas evaluate the same plans. Rule
	// invalidation is process-local, so shared engines read rules from
	// storage on every evaluation.
	Shared bool
}

// Engine implements escalation business logic.
type Engine struct {
	repo     Repository
	locker   Locker
	notifier Notifier
	clock    clock.Clock
	rules    *ruleCache
}

// NewEngine creates a new escalation engine. A nil locker uses a LocalLocker,
// a nil notifier drops notifications.
func NewEngine(repo Repository, locker Locker, notifier Notifier, clk clock.Clock, cfg Config) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		clock:    clk,
	}
	ttl := cfg.RuleCacheTTL
	if cfg.Shared {
		ttl = 0
	}
	e.rules = newRuleCache(ttl, func(ctx context.Context, planID string, severity domain.Severity) ([]*domain.EscalationRule, error) {
		return repo.ListRules(ctx, planID, &severity)
	})
	return e
}

// Evaluate runs every matching rule against the plan's open and investigating
// incidents and returns the events created by this call. Running it again
// with unchanged inputs creates nothing.
func (e *Engine) Evaluate(ctx context.Context, planID string) ([]*domain.EscalationEvent, error) {
	if err := e.checkPlan(ctx, planID); err != nil {
		return nil, err
	}

	ids, err := e.repo.ListActiveIncidentIDs(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}

	created := make([]*domain.EscalationEvent, 0)
	for _, id := range ids {
		events, err := e.evaluateIncident(ctx, id)
		if err != nil {
			return created, fmt.Errorf("evaluate incident %s: %w", id, err)
		}
		created = append(created, events...)
	}
	return created, nil
}

func (e *Engine) evaluateIncident(ctx context.Context, incidentID string) ([]*domain.EscalationEvent, error) {
	unlock, err := e.locker.Lock(ctx, incidentLockKey(incidentID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var incident *domain.Incident
	var notices []Notification

	err = e.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		incident, err = tx.GetIncidentForUpdate(ctx, incidentID)
		if err != nil {
			return err
		}
		if !incident.Status.IsActive() {
			return nil
		}

		rules, err := e.rules.get(ctx, incident.PlanID, incident.Severity)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		if len(rules) == 0 {
			return nil
		}

		escalated, err := escalatedLevels(ctx, tx, incident.ID)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		for _, rule := range sortedRules(rules) {
			if escalated[rule.Level] || !rule.Triggered(incident, now) {
				continue
			}

			ruleID := rule.ID
			event := &domain.EscalationEvent{
				IncidentID:  incident.ID,
				RuleID:      &ruleID,
				Level:       rule.Level,
				TriggerType: rule.TriggerType,
				Target:      rule.NotifyTarget,
				CreatedAt:   now,
			}
			ok, err := tx.CreateEvent(ctx, event)
			if err != nil {
				return fmt.Errorf("create event: %w", err)
			}
			escalated[rule.Level] = true
			if !ok {
				continue
			}

			incident.RecordEscalation(rule.Level, now)
			body := fmt.Sprintf("Escalated to level %d: %s for %d minutes", rule.Level, triggerText(rule.TriggerType), rule.TriggerAfterMinutes)
			if err := tx.AddSystemComment(ctx, incident.ID, body); err != nil {
				return fmt.Errorf("add system comment: %w", err)
			}
			notices = append(notices, Notification{Event: event, Channel: rule.NotifyChannel})
		}

		if len(notices) == 0 {
			return nil
		}
		return tx.UpdateEscalationState(ctx, incident)
	})
	if err != nil {
		return nil, err
	}

	events := make([]*domain.EscalationEvent, 0, len(notices))
	for _, n := range notices {
		n.Incident = incident
		events = append(events, n.Event)
		e.dispatch(ctx, n)
	}
	return events, nil
}

// EscalateManually records a manual escalation to level. It bypasses rule
// evaluation; the incident's current level becomes the higher of the two.
func (e *Engine) EscalateManually(ctx context.Context, incidentID string, level int, target, notes, actor string) (*domain.EscalationEvent, error) {
	if level <= 0 {
		return nil, fmt.Errorf("%w: level must be positive", ErrInvalidInput)
	}

	unlock, err := e.locker.Lock(ctx, incidentLockKey(incidentID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var incident *domain.Incident
	var event *domain.EscalationEvent

	err = e.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		incident, err = tx.GetIncidentForUpdate(ctx, incidentID)
		if err != nil {
			return err
		}
		if incident.Status.IsResolved() {
			return ErrIncidentResolved
		}

		now := e.clock.Now()
		event = &domain.EscalationEvent{
			IncidentID: incident.ID,
			IsManual:   true,
			Level:      level,
			Target:     target,
			Notes:      notes,
			CreatedBy:  actor,
			CreatedAt:  now,
		}
		if _, err := tx.CreateEvent(ctx, event); err != nil {
			return fmt.Errorf("create event: %w", err)
		}

		incident.RecordEscalation(level, now)
		body := fmt.Sprintf("Manually escalated to level %d by %s", level, actorName(actor))
		if target != "" {
			body += " (" + target + ")"
		}
		if notes != "" {
			body += ": " + notes
		}
		if err := tx.AddSystemComment(ctx, incident.ID, body); err != nil {
			return fmt.Errorf("add system comment: %w", err)
		}
		return tx.UpdateEscalationState(ctx, incident)
	})
	if err != nil {
		return nil, fmt.Errorf("escalate manually: %w", err)
	}

	e.dispatch(ctx, Notification{Event: event, Incident: incident})
	return event, nil
}

// Acknowledge marks the event as acknowledged. Acknowledging it again
// returns the original acknowledgment unchanged.
func (e *Engine) Acknowledge(ctx context.Context, eventID, user string) (*domain.EscalationEvent, error) {
	var event *domain.EscalationEvent
	var first bool

	err := e.repo.RunInTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		event, err = tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if event.AcknowledgedAt != nil {
			return nil
		}

		now := e.clock.Now()
		event.AcknowledgedAt = &now
		event.AcknowledgedBy = user
		first = true
		if err := tx.AcknowledgeEvent(ctx, event); err != nil {
			return err
		}
		body := fmt.Sprintf("Escalation level %d acknowledged by %s", event.Level, actorName(user))
		return tx.AddSystemComment(ctx, event.IncidentID, body)
	})
	if err != nil {
		return nil, fmt.Errorf("acknowledge escalation: %w", err)
	}

	if first {
		ctxlog.FromContext(ctx).Info("escalation acknowledged",
			"event_id", event.ID,
			"incident_id", event.IncidentID,
			"level", event.Level,
			"user", user,
		)
	}
	return event, nil
}

// ListEvents returns the incident's escalation events, oldest first.
func (e *Engine) ListEvents(ctx context.Context, incidentID string) ([]*domain.EscalationEvent, error) {
	return e.repo.ListEvents(ctx, incidentID)
}

// ListPlanEvents returns the escalation events of every incident of the plan.
func (e *Engine) ListPlanEvents(ctx context.Context, planID string) ([]*domain.EscalationEvent, error) {
	if err := e.checkPlan(ctx, planID); err != nil {
		return nil, err
	}
	return e.repo.ListPlanEvents(ctx, planID)
}

func (e *Engine) checkPlan(ctx context.Context, planID string) error {
	ok, err := e.repo.PlanExists(ctx, planID)
	if err != nil {
		return fmt.Errorf("check plan: %w", err)
	}
	if !ok {
		return ErrPlanNotFound
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, n Notification) {
	trigger := string(n.Event.TriggerType)
	if n.Event.IsManual {
		trigger = "manual"
	}
	metrics.EscalationEventsTotal.WithLabelValues(trigger).Inc()

	ctxlog.FromContext(ctx).Warn("incident escalated",
		"incident_id", n.Event.IncidentID,
		"code", n.Incident.Code,
		"level", n.Event.Level,
		"trigger", trigger,
		"target", n.Event.Target,
	)
	e.notifier.Notify(ctx, n)
}

func escalatedLevels(ctx context.Context, tx Repository, incidentID string) (map[int]bool, error) {
	levels, err := tx.ListEscalatedLevels(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list escalated levels: %w", err)
	}
	set := make(map[int]bool, len(levels))
	for _, l := range levels {
		set[l] = true
	}
	return set, nil
}

func sortedRules(rules []*domain.EscalationRule) []*domain.EscalationRule {
	out := append([]*domain.EscalationRule(nil), rules...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LevelOrder < out[j].LevelOrder })
	return out
}

func triggerText(t domain.TriggerType) string {
	switch t {
	case domain.TriggerNoResponse:
		return "no response"
	case domain.TriggerNoUpdate:
		return "no update"
	case domain.TriggerNoResolution:
		return "not resolved"
	}
	return string(t)
}

func actorName(actor string) string {
	if actor == "" {
		return "unknown"
	}
	return actor
}
