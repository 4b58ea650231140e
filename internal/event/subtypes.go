package event

import "fmt"

// Subtype constructors wrap New with additional required-metadata
// validation, then stash their typed payload under well-known Metadata
// keys. Payload values are restricted to JSON-primitive shapes
// (map[string]any, []any, string, float64, bool) so that
// FromMap(ToMap(e)) round-trips exactly — a struct payload would decode
// back as a map[string]any and break equality.

// Known action/update-operation vocabularies, shared by the instruction
// matcher (package instruction) so both sides agree on valid values.
const (
	ContextOpAppend     = "append"
	ContextOpReplace    = "replace"
	ContextOpSynthesize = "synthesize"
	ContextOpMerge      = "merge"
)

// NewEmailEvent builds an EmailEvent: {operation, provider, email_data}.
// emailData must carry "subject" for any operation, plus "from" for
// "received" and "to" for "send".
func NewEmailEvent(source, typ, userID, operation, provider string, emailData map[string]any) (Event, error) {
	e, err := New(source, typ, userID)
	if err != nil {
		return Event{}, err
	}
	if operation == "" {
		return Event{}, &ValidationError{"operation", "must not be empty"}
	}
	if emailData["subject"] == nil || emailData["subject"] == "" {
		return Event{}, &ValidationError{"email_data.subject", "must not be empty"}
	}
	switch operation {
	case "received":
		if s, _ := emailData["from"].(string); s == "" {
			return Event{}, &ValidationError{"email_data.from", "required for operation=received"}
		}
	case "send":
		if s, _ := emailData["to"].(string); s == "" {
			return Event{}, &ValidationError{"email_data.to", "required for operation=send"}
		}
	}
	e.Metadata["operation"] = operation
	e.Metadata["provider"] = provider
	e.Metadata["email_data"] = emailData
	return e, nil
}

// EmailFields extracts an EmailEvent's operation, provider and
// email_data back out of Metadata. ok is false if e isn't an
// EmailEvent (missing required keys).
func EmailFields(e Event) (operation, provider string, data map[string]any, ok bool) {
	operation, hasOp := e.Metadata["operation"].(string)
	provider, _ = e.Metadata["provider"].(string)
	data, hasData := e.Metadata["email_data"].(map[string]any)
	return operation, provider, data, hasOp && hasData
}

// NewCalendarEvent builds a CalendarEvent: {operation, provider, calendar_data}.
func NewCalendarEvent(source, typ, userID, operation, provider string, calendarData map[string]any) (Event, error) {
	e, err := New(source, typ, userID)
	if err != nil {
		return Event{}, err
	}
	if operation == "" {
		return Event{}, &ValidationError{"operation", "must not be empty"}
	}
	if calendarData["summary"] == nil || calendarData["summary"] == "" {
		return Event{}, &ValidationError{"calendar_data.summary", "must not be empty"}
	}
	e.Metadata["operation"] = operation
	e.Metadata["provider"] = provider
	e.Metadata["calendar_data"] = calendarData
	return e, nil
}

// CalendarFields mirrors EmailFields for CalendarEvent.
func CalendarFields(e Event) (operation, provider string, data map[string]any, ok bool) {
	operation, hasOp := e.Metadata["operation"].(string)
	provider, _ = e.Metadata["provider"].(string)
	data, hasData := e.Metadata["calendar_data"].(map[string]any)
	return operation, provider, data, hasOp && hasData
}

// NewContextUpdateEvent builds a ContextUpdateEvent:
// {context_key, update_operation, content, synthesis_prompt?}.
func NewContextUpdateEvent(source, userID, contextKey, updateOperation, content, synthesisPrompt string) (Event, error) {
	e, err := New(source, "context.update", userID)
	if err != nil {
		return Event{}, err
	}
	if contextKey == "" {
		return Event{}, &ValidationError{"context_key", "must not be empty"}
	}
	switch updateOperation {
	case ContextOpAppend, ContextOpReplace, ContextOpSynthesize, ContextOpMerge:
	default:
		return Event{}, &ValidationError{"update_operation", fmt.Sprintf("unknown operation %q", updateOperation)}
	}
	e.Metadata["context_key"] = contextKey
	e.Metadata["update_operation"] = updateOperation
	e.Metadata["content"] = content
	if synthesisPrompt != "" {
		e.Metadata["synthesis_prompt"] = synthesisPrompt
	}
	return e, nil
}

// ContextUpdateFields mirrors EmailFields for ContextUpdateEvent.
func ContextUpdateFields(e Event) (contextKey, updateOperation, content, synthesisPrompt string, ok bool) {
	contextKey, hasKey := e.Metadata["context_key"].(string)
	updateOperation, hasOp := e.Metadata["update_operation"].(string)
	content, _ = e.Metadata["content"].(string)
	synthesisPrompt, _ = e.Metadata["synthesis_prompt"].(string)
	return contextKey, updateOperation, content, synthesisPrompt, hasKey && hasOp
}

// NewLLMChatEvent builds an LLMChatEvent: {messages: [{role, content}]}.
func NewLLMChatEvent(source, typ, userID string, messages []map[string]any) (Event, error) {
	e, err := New(source, typ, userID)
	if err != nil {
		return Event{}, err
	}
	if len(messages) == 0 {
		return Event{}, &ValidationError{"messages", "must contain at least one message"}
	}
	msgs := make([]any, len(messages))
	for i, m := range messages {
		role, _ := m["role"].(string)
		if role == "" {
			return Event{}, &ValidationError{fmt.Sprintf("messages[%d].role", i), "must not be empty"}
		}
		msgs[i] = m
	}
	e.Metadata["messages"] = msgs
	return e, nil
}

// LLMChatMessages mirrors EmailFields for LLMChatEvent.
func LLMChatMessages(e Event) (messages []any, ok bool) {
	messages, ok = e.Metadata["messages"].([]any)
	return messages, ok
}

// NewWorkerTaskEvent builds a WorkerTaskEvent: {task|commands[], repo_url?, cost?}.
// Exactly one of task or commands must be set.
func NewWorkerTaskEvent(source, typ, userID, task string, commands []string, repoURL string, cost float64) (Event, error) {
	e, err := New(source, typ, userID)
	if err != nil {
		return Event{}, err
	}
	if task == "" && len(commands) == 0 {
		return Event{}, &ValidationError{"task", "either task or commands must be set"}
	}
	if task != "" {
		e.Metadata["task"] = task
	}
	if len(commands) > 0 {
		cmds := make([]any, len(commands))
		for i, c := range commands {
			cmds[i] = c
		}
		e.Metadata["commands"] = cmds
	}
	if repoURL != "" {
		e.Metadata["repo_url"] = repoURL
	}
	if cost != 0 {
		e.Metadata["cost"] = cost
	}
	return e, nil
}

// NewVoiceCallEvent builds a VoiceCallEvent: {phone, objective?}.
func NewVoiceCallEvent(source, typ, userID, phone, objective string) (Event, error) {
	e, err := New(source, typ, userID)
	if err != nil {
		return Event{}, err
	}
	if phone == "" {
		return Event{}, &ValidationError{"phone", "must not be empty"}
	}
	e.Metadata["phone"] = phone
	if objective != "" {
		e.Metadata["objective"] = objective
	}
	return e, nil
}

// NewInstructionEvent builds an InstructionEvent: {operation, data}.
// These (and ContextUpdateEvent, via its "context.update" type) are
// skipped by the instruction matcher to prevent feedback loops — see
// package instruction's loop-prevention rule.
func NewInstructionEvent(source, userID, operation string, data map[string]any) (Event, error) {
	e, err := New(source, "instruction."+operation, userID)
	if err != nil {
		return Event{}, err
	}
	if operation == "" {
		return Event{}, &ValidationError{"operation", "must not be empty"}
	}
	e.Metadata["operation"] = operation
	e.Metadata["data"] = data
	return e, nil
}
