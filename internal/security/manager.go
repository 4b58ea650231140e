package security

import (
	"log/slog"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
	"github.com/nugget/aios-runtime/internal/policy"
)

// CostFunc computes monthly_cost(user) for the evaluation context.
// runtime.New wires CostLedger.MonthlyCost as the default, but any
// deployment can supply its own cost model.
type CostFunc func(userID string, now time.Time) (float64, error)

// Manager is the security manager: it builds the
// evaluation context, runs the policy engine, and records the
// resulting decision to the audit log.
type Manager struct {
	logger   *slog.Logger
	policies []*policy.Policy
	audit    *AuditLog
	costFunc CostFunc
	now      func() time.Time
}

// New constructs a Manager with the given policy set, audit log, and
// cost function. A nil logger is replaced with slog.Default(); a nil
// costFunc treats monthly_cost as always 0 (useful for tests and
// deployments that don't meter cost).
func New(logger *slog.Logger, policies []*policy.Policy, audit *AuditLog, costFunc CostFunc) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = NewAuditLog()
	}
	if costFunc == nil {
		costFunc = func(string, time.Time) (float64, error) { return 0, nil }
	}
	return &Manager{
		logger:   logger,
		policies: policies,
		audit:    audit,
		costFunc: costFunc,
		now:      time.Now,
	}
}

// AuditLog exposes the manager's audit log, e.g. for the "system
// status" CLI command.
func (m *Manager) AuditLog() *AuditLog { return m.audit }

// Decision is what Authorize returns: whether the event may proceed,
// plus the actions taken for the caller to act on (e.g. RESTRICTED
// might throttle downstream routing even though it doesn't deny).
type Decision struct {
	Authorized   bool
	ActionsTaken []string
}

// Authorize builds the evaluation context for e.UserID, runs every
// enabled policy whose AppliesTo covers the user in ascending-priority
// order, and appends an audit record for the outcome. It never returns
// an error: a cost-function failure is logged and monthly_cost is
// treated as 0, matching the policy engine's fail-open evaluation
// semantics.
func (m *Manager) Authorize(e event.Event) Decision {
	now := m.now()

	cost, err := m.costFunc(e.UserID, now)
	if err != nil {
		m.logger.Warn("security: monthly_cost lookup failed, treating as 0", "user_id", e.UserID, "error", err)
		cost = 0
	}

	ctx := policy.Context{
		"current_time":   now,
		"daily_events":   float64(m.audit.DailyEvents(e.UserID, now)),
		"monthly_cost":   cost,
		"event_type":     e.Type,
		"event_source":   e.Source,
		"event_category": string(e.Category),
	}
	for k, v := range e.Metadata {
		if _, exists := ctx[k]; !exists {
			ctx[k] = v
		}
	}

	applicable := make([]*policy.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		if p.AppliesToUser(e.UserID) {
			applicable = append(applicable, p)
		}
	}

	result := policy.Evaluate(applicable, ctx)
	for _, cond := range result.UnknownConditions {
		m.logger.Warn("security: policy condition did not match any recognized form", "condition", cond)
	}

	m.audit.Append(AuditRecord{
		Timestamp:         now,
		EventID:           e.ID,
		EventType:         e.Type,
		UserID:            e.UserID,
		Authorized:        result.Authorized,
		PoliciesEvaluated: result.PoliciesEvaluated,
		PoliciesMatched:   result.PoliciesMatched,
		ActionsTaken:      result.ActionsTaken,
	})

	return Decision{Authorized: result.Authorized, ActionsTaken: result.ActionsTaken}
}
