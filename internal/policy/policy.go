package policy

import (
	"fmt"
	"sort"
)

// Action is the outcome a matched policy contributes.
type Action string

const (
	ActionAllow    Action = "ALLOW"
	ActionDeny     Action = "DENY"
	ActionRestrict Action = "RESTRICT"
	ActionLog      Action = "LOG"
	ActionNotify   Action = "NOTIFY"
)

// Policy is a named condition/action pair evaluated per event.
// Condition is parsed lazily and cached on first Evaluate
// call via compiled.
type Policy struct {
	ID        string
	Name      string
	Condition string
	Action    Action
	Config    map[string]any
	AppliesTo []string // user ids, or ["*"] for everyone
	Enabled   bool
	Priority  int // lower = evaluated earlier

	compiled   Condition
	isCompiled bool
}

// AppliesToUser reports whether the policy applies to the given user.
func (p *Policy) AppliesToUser(userID string) bool {
	for _, u := range p.AppliesTo {
		if u == "*" || u == userID {
			return true
		}
	}
	return false
}

func (p *Policy) condition() Condition {
	if !p.isCompiled {
		p.compiled = Parse(p.Condition)
		p.isCompiled = true
	}
	return p.compiled
}

// Decision is the outcome of evaluating an ordered policy set against
// one event.
type Decision struct {
	Authorized        bool
	PoliciesEvaluated int
	PoliciesMatched   int
	ActionsTaken      []string
	UnknownConditions []string // conditions that failed to parse, for logging
}

// Evaluate runs policies (already filtered to those that AppliesToUser)
// in ascending-priority order against ctx. The first matched DENY
// short-circuits with Authorized=false. RESTRICT/LOG/NOTIFY accumulate
// into ActionsTaken without stopping evaluation. ALLOW is the default
// when nothing matches.
func Evaluate(policies []*Policy, ctx Context) Decision {
	ordered := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	d := Decision{Authorized: true}
	for _, p := range ordered {
		d.PoliciesEvaluated++
		cond := p.condition()
		if cond.Unknown() {
			d.UnknownConditions = append(d.UnknownConditions, p.Condition)
		}
		if !cond.Evaluate(ctx) {
			continue
		}
		d.PoliciesMatched++
		switch p.Action {
		case ActionDeny:
			d.Authorized = false
			d.ActionsTaken = append(d.ActionsTaken, "DENIED")
			return d
		case ActionRestrict:
			d.ActionsTaken = append(d.ActionsTaken, "RESTRICTED")
		case ActionLog:
			d.ActionsTaken = append(d.ActionsTaken, "LOGGED")
		case ActionNotify:
			d.ActionsTaken = append(d.ActionsTaken, "NOTIFIED")
		case ActionAllow:
			// explicit ALLOW matched; no action token needed beyond the default.
		}
	}
	return d
}

// Defaults returns the three built-in policies:
// a cost ceiling (DENY), a per-user daily rate limit (RESTRICT), and a
// PII-protection log rule for context.* events. costThresholdUSD and
// dailyEventLimit are deployment-tunable.
func Defaults(costThresholdUSD float64, dailyEventLimit int) []*Policy {
	return []*Policy{
		{
			ID:        "default.cost-ceiling",
			Name:      "Monthly cost ceiling",
			Condition: conditionF("monthly_cost > %v", costThresholdUSD),
			Action:    ActionDeny,
			AppliesTo: []string{"*"},
			Enabled:   true,
			Priority:  0,
		},
		{
			ID:        "default.daily-rate",
			Name:      "Per-user daily event rate",
			Condition: conditionF("daily_events > %v", dailyEventLimit),
			Action:    ActionRestrict,
			AppliesTo: []string{"*"},
			Enabled:   true,
			Priority:  10,
		},
		{
			ID:        "default.pii-protection",
			Name:      "Context event PII logging",
			Condition: "event_type.startswith('context.')",
			Action:    ActionLog,
			AppliesTo: []string{"*"},
			Enabled:   true,
			Priority:  20,
		},
	}
}

func conditionF(format string, v any) string {
	return fmt.Sprintf(format, v)
}
