package instruction

import (
	"context"
	"fmt"
	"time"

	"github.com/nugget/aios-runtime/internal/docstore"
)

// instructionsContainer is the docstore container instructions are
// filed under, partitioned by user id.
const instructionsContainer = "instructions"

// DocStore adapts a docstore.Store into the matcher's Store contract,
// so instructions survive a restart without the core depending on any
// concrete document database.
type DocStore struct {
	docs docstore.Store
}

// NewDocStore wraps docs as an instruction Store.
func NewDocStore(docs docstore.Store) *DocStore {
	return &DocStore{docs: docs}
}

// ListForUser returns every instruction partitioned under userID.
func (s *DocStore) ListForUser(ctx context.Context, userID string) ([]*Instruction, error) {
	docs, err := s.docs.Query(ctx, instructionsContainer, "pk = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("instruction: query for user %q: %w", userID, err)
	}
	out := make([]*Instruction, 0, len(docs))
	for _, d := range docs {
		instr, err := instructionFromDocument(d)
		if err != nil {
			return nil, fmt.Errorf("instruction: decode %q: %w", d.ID, err)
		}
		out = append(out, instr)
	}
	return out, nil
}

// Save upserts instr, keyed by its ID and partitioned by its UserID.
func (s *DocStore) Save(ctx context.Context, instr *Instruction) error {
	if instr.ID == "" {
		return fmt.Errorf("instruction: id must not be empty")
	}
	doc := docstore.Document{ID: instr.ID, PK: instr.UserID, Data: instructionToMap(instr)}
	return s.docs.Upsert(ctx, instructionsContainer, doc)
}

func instructionToMap(instr *Instruction) map[string]any {
	m := map[string]any{
		"id":              instr.ID,
		"user_id":         instr.UserID,
		"name":            instr.Name,
		"description":     instr.Description,
		"enabled":         instr.Enabled,
		"created_at":      instr.CreatedAt.Format(time.RFC3339),
		"updated_at":      instr.UpdatedAt.Format(time.RFC3339),
		"execution_count": instr.ExecutionCount,
		"trigger": map[string]any{
			"event_type": instr.Trigger.EventType,
			"providers":  toAnySlice(instr.Trigger.Providers),
			"conditions": conditionsToMap(instr.Trigger.Conditions),
		},
		"action": map[string]any{
			"type":   instr.Action.Type,
			"config": instr.Action.Config,
		},
	}
	if instr.LastExecuted != nil {
		m["last_executed"] = instr.LastExecuted.Format(time.RFC3339)
	}
	return m
}

func conditionsToMap(c Conditions) map[string]any {
	out := map[string]any{}
	if c.TimeRange != nil {
		out["time_range"] = map[string]any{
			"start_hour": c.TimeRange.StartHour,
			"end_hour":   c.TimeRange.EndHour,
		}
	}
	if len(c.ContentFilters) > 0 {
		filters := make([]any, len(c.ContentFilters))
		for i, f := range c.ContentFilters {
			filters[i] = map[string]any{"field": f.Field, "terms": toAnySlice(f.Terms)}
		}
		out["content_filters"] = filters
	}
	return out
}

func instructionFromDocument(d docstore.Document) (*Instruction, error) {
	data := d.Data
	instr := &Instruction{ID: d.ID, UserID: d.PK}
	instr.Name, _ = data["name"].(string)
	instr.Description, _ = data["description"].(string)
	instr.Enabled, _ = data["enabled"].(bool)
	instr.ExecutionCount = toInt(data["execution_count"])
	instr.CreatedAt = parseTime(data["created_at"])
	instr.UpdatedAt = parseTime(data["updated_at"])
	if raw, ok := data["last_executed"].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err == nil {
			instr.LastExecuted = &t
		}
	}

	if raw, ok := data["trigger"].(map[string]any); ok {
		instr.Trigger.EventType, _ = raw["event_type"].(string)
		instr.Trigger.Providers = toStringSliceAny(raw["providers"])
		if cond, ok := raw["conditions"].(map[string]any); ok {
			instr.Trigger.Conditions = conditionsFromMap(cond)
		}
	}
	if raw, ok := data["action"].(map[string]any); ok {
		instr.Action.Type, _ = raw["type"].(string)
		instr.Action.Config, _ = raw["config"].(map[string]any)
	}
	return instr, nil
}

func conditionsFromMap(raw map[string]any) Conditions {
	var c Conditions
	if tr, ok := raw["time_range"].(map[string]any); ok {
		c.TimeRange = &TimeRange{
			StartHour: toInt(tr["start_hour"]),
			EndHour:   toInt(tr["end_hour"]),
		}
	}
	if filters, ok := raw["content_filters"].([]any); ok {
		for _, rf := range filters {
			fm, ok := rf.(map[string]any)
			if !ok {
				continue
			}
			field, _ := fm["field"].(string)
			c.ContentFilters = append(c.ContentFilters, ContentFilter{
				Field: field,
				Terms: toStringSliceAny(fm["terms"]),
			})
		}
	}
	return c
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func toStringSliceAny(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
