package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/cutover-garden/internal/domain"
	"github.com/bissquit/cutover-garden/internal/escalation"
)

// stubSender returns errs in order, then nil.
type stubSender struct {
	channel domain.ChannelType

	mu    sync.Mutex
	errs  []error
	calls int
	sent  []Notification
}

func (s *stubSender) Type() domain.ChannelType { return s.channel }

func (s *stubSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func fastDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:        3,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         5 * time.Millisecond,
		BackoffMultiplier:  2,
		BreakerFailures:    5,
		BreakerOpenTimeout: time.Minute,
	}
}

func testNotification(manual bool) escalation.Notification {
	created := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	ruleID := "rule-1"
	ev := &domain.EscalationEvent{
		ID:          "event-1",
		IncidentID:  "inc-1",
		RuleID:      &ruleID,
		Level:       2,
		TriggerType: domain.TriggerNoResolution,
		Target:      "#cutover-war-room",
		CreatedAt:   created.Add(95 * time.Minute),
	}
	if manual {
		ev.RuleID = nil
		ev.IsManual = true
		ev.TriggerType = ""
		ev.Notes = "DBA needed"
		ev.CreatedBy = "alice"
	}
	return escalation.Notification{
		Event: ev,
		Incident: &domain.Incident{
			ID:        "inc-1",
			Code:      "INC-0001",
			Title:     "Payments ledger drift",
			Severity:  domain.SeverityP1,
			Status:    domain.IncidentStatusInvestigating,
			CreatedAt: created,
		},
		Channel: domain.ChannelTypeMattermost,
	}
}
