package policy

import "testing"

func TestEvaluate_DefaultAllow(t *testing.T) {
	d := Evaluate(nil, Context{})
	if !d.Authorized {
		t.Error("no policies should default to authorized")
	}
	if d.PoliciesEvaluated != 0 {
		t.Errorf("PoliciesEvaluated = %d, want 0", d.PoliciesEvaluated)
	}
}

func TestEvaluate_DenyShortCircuits(t *testing.T) {
	policies := []*Policy{
		{ID: "restrict", Condition: "always", Action: ActionRestrict, Enabled: true, Priority: 0},
		{ID: "deny", Condition: "always", Action: ActionDeny, Enabled: true, Priority: 1},
		{ID: "notify", Condition: "always", Action: ActionNotify, Enabled: true, Priority: 2},
	}
	d := Evaluate(policies, Context{})
	if d.Authorized {
		t.Error("DENY should make the decision unauthorized")
	}
	if d.PoliciesEvaluated != 2 {
		t.Errorf("PoliciesEvaluated = %d, want 2 (stopped at deny)", d.PoliciesEvaluated)
	}
	if len(d.ActionsTaken) != 2 || d.ActionsTaken[1] != "DENIED" {
		t.Errorf("ActionsTaken = %v, want [RESTRICTED DENIED]", d.ActionsTaken)
	}
}

func TestEvaluate_PriorityOrdering(t *testing.T) {
	policies := []*Policy{
		{ID: "second", Condition: "always", Action: ActionLog, Enabled: true, Priority: 10},
		{ID: "first", Condition: "always", Action: ActionDeny, Enabled: true, Priority: 0},
	}
	d := Evaluate(policies, Context{})
	if d.Authorized {
		t.Error("lower-priority DENY should run first and short-circuit")
	}
	if d.PoliciesEvaluated != 1 {
		t.Errorf("PoliciesEvaluated = %d, want 1", d.PoliciesEvaluated)
	}
}

func TestEvaluate_DisabledPolicySkipped(t *testing.T) {
	policies := []*Policy{
		{ID: "off", Condition: "always", Action: ActionDeny, Enabled: false, Priority: 0},
	}
	d := Evaluate(policies, Context{})
	if !d.Authorized {
		t.Error("disabled policy should not be evaluated")
	}
	if d.PoliciesEvaluated != 0 {
		t.Errorf("PoliciesEvaluated = %d, want 0", d.PoliciesEvaluated)
	}
}

func TestEvaluate_UnknownConditionReported(t *testing.T) {
	policies := []*Policy{
		{ID: "bad", Condition: "not a valid condition $$", Action: ActionLog, Enabled: true, Priority: 0},
	}
	d := Evaluate(policies, Context{})
	if len(d.UnknownConditions) != 1 {
		t.Fatalf("UnknownConditions = %v, want 1 entry", d.UnknownConditions)
	}
	if d.PoliciesMatched != 0 {
		t.Errorf("PoliciesMatched = %d, want 0 (unknown conditions evaluate false)", d.PoliciesMatched)
	}
}

func TestAppliesToUser(t *testing.T) {
	p := &Policy{AppliesTo: []string{"alice", "bob"}}
	if !p.AppliesToUser("alice") {
		t.Error("expected alice to match")
	}
	if p.AppliesToUser("carol") {
		t.Error("carol should not match")
	}

	wildcard := &Policy{AppliesTo: []string{"*"}}
	if !wildcard.AppliesToUser("anyone") {
		t.Error("wildcard should match any user")
	}
}

func TestDefaults_CostCeilingDenies(t *testing.T) {
	policies := Defaults(100.0, 500)
	d := Evaluate(policies, Context{"monthly_cost": 150.0, "daily_events": 1.0})
	if d.Authorized {
		t.Error("monthly_cost over ceiling should deny")
	}
}

func TestDefaults_DailyRateRestricts(t *testing.T) {
	policies := Defaults(100.0, 500)
	d := Evaluate(policies, Context{"monthly_cost": 1.0, "daily_events": 600.0})
	if !d.Authorized {
		t.Error("RESTRICT should not deny authorization")
	}
	found := false
	for _, a := range d.ActionsTaken {
		if a == "RESTRICTED" {
			found = true
		}
	}
	if !found {
		t.Errorf("ActionsTaken = %v, want RESTRICTED present", d.ActionsTaken)
	}
}
