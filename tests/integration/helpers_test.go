//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/cutover-garden/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// envelope matches the {"data": ...} success body.
type envelope[T any] struct {
	Data T `json:"data"`
}

type planResult struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Status string `json:"status"`
}

type workItemResult struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Status         string `json:"status"`
	IsCriticalPath bool   `json:"is_critical_path"`
	DelayMinutes   *int   `json:"delay_minutes"`
}

type incidentResult struct {
	ID                     string     `json:"id"`
	Code                   string     `json:"code"`
	Status                 string     `json:"status"`
	FirstResponseAt        *time.Time `json:"first_response_at"`
	ResolvedAt             *time.Time `json:"resolved_at"`
	ResolutionMinutes      *int       `json:"resolution_minutes"`
	ResponseBreached       bool       `json:"response_breached"`
	ResolutionBreached     bool       `json:"resolution_breached"`
	ResponseDeadline       time.Time  `json:"response_deadline"`
	ResolutionDeadline     time.Time  `json:"resolution_deadline"`
	CurrentEscalationLevel int        `json:"current_escalation_level"`
	EscalationCount        int        `json:"escalation_count"`
}

type eventResult struct {
	ID             string     `json:"id"`
	IncidentID     string     `json:"incident_id"`
	RuleID         *string    `json:"rule_id"`
	IsManual       bool       `json:"is_manual"`
	Level          int        `json:"level"`
	TriggerType    string     `json:"trigger_type"`
	Target         string     `json:"target"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	AcknowledgedBy string     `json:"acknowledged_by"`
}

// decode reads a success envelope into a value of type T.
func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var body envelope[T]
	testutil.DecodeJSON(t, resp, &body)
	return body.Data
}

// expectStatus fails the test with the body when the status differs.
func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, testutil.ReadBody(t, resp))
	}
}

func uniqueName(prefix string) string {
	return prefix + " " + uuid.NewString()[:8]
}

// createTestPlan creates a draft plan and returns it.
func createTestPlan(t *testing.T, client *testutil.Client) planResult {
	t.Helper()

	resp, err := client.POST("/api/v1/plans", map[string]interface{}{
		"name":        uniqueName("ERP go-live"),
		"description": "Finance and supply chain cutover",
	})
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusCreated)
	return decode[planResult](t, resp)
}

// createTestScope adds a scope to the plan and returns its ID.
func createTestScope(t *testing.T, client *testutil.Client, planID, name string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/plans/"+planID+"/scopes", map[string]interface{}{
		"name": name,
	})
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusCreated)
	return decode[struct {
		ID string `json:"id"`
	}](t, resp).ID
}

// createTestWorkItem adds a work item with the given planned duration.
func createTestWorkItem(t *testing.T, client *testutil.Client, planID, scopeID, title string, minutes int) workItemResult {
	t.Helper()

	resp, err := client.POST("/api/v1/plans/"+planID+"/work-items", map[string]interface{}{
		"scope_id":                 scopeID,
		"title":                    title,
		"owner":                    "dba-team",
		"planned_duration_minutes": minutes,
	})
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusCreated)
	return decode[workItemResult](t, resp)
}

// addTestDependency links predecessor to successor with finish_to_start.
func addTestDependency(t *testing.T, client *testutil.Client, planID, predecessorID, successorID string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/plans/"+planID+"/dependencies", map[string]interface{}{
		"predecessor_id": predecessorID,
		"successor_id":   successorID,
	})
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusCreated)
	return decode[struct {
		ID string `json:"id"`
	}](t, resp).ID
}

// transitionPlan moves the plan and asserts success.
func transitionPlan(t *testing.T, client *testutil.Client, planID, status string) planResult {
	t.Helper()

	resp, err := client.POST("/api/v1/plans/"+planID+"/transitions", map[string]string{"status": status})
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusOK)
	return decode[planResult](t, resp)
}

// transitionWorkItem moves the work item and asserts success.
func transitionWorkItem(t *testing.T, client *testutil.Client, itemID, status string) workItemResult {
	t.Helper()

	resp, err := client.POST("/api/v1/work-items/"+itemID+"/transitions", map[string]string{"status": status})
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusOK)
	return decode[workItemResult](t, resp)
}

// createTestIncident raises an incident on the plan.
func createTestIncident(t *testing.T, client *testutil.Client, planID, severity string) incidentResult {
	t.Helper()

	resp, err := client.POST("/api/v1/plans/"+planID+"/incidents", map[string]interface{}{
		"title":       uniqueName("Ledger drift"),
		"description": "Opening balances do not match",
		"severity":    severity,
	})
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusCreated)
	return decode[incidentResult](t, resp)
}

// backdateIncident shifts the incident's timestamps and deadlines into the past.
func backdateIncident(t *testing.T, incidentID string, by time.Duration) {
	t.Helper()

	_, err := testDB.Exec(context.Background(), `
		UPDATE incidents SET
			created_at = created_at - make_interval(mins => $2),
			last_activity_at = last_activity_at - make_interval(mins => $2),
			response_deadline = response_deadline - make_interval(mins => $2),
			resolution_deadline = resolution_deadline - make_interval(mins => $2)
		WHERE id = $1`,
		incidentID, int(by.Minutes()))
	require.NoError(t, err)
}
