// Package worker is a reference TOOL driver handling worker.task
// events against a real code forge: a worker.task event opens a
// tracking issue on the task's repo_url and a worker.task.completed
// event is emitted once the issue exists.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/aios-runtime/internal/driver"
	"github.com/nugget/aios-runtime/internal/event"
	"github.com/nugget/aios-runtime/internal/forge"
)

// ManifestID is this driver's registry id.
const ManifestID = "refdrivers.worker"

// Manifest describes this driver for registration.
var Manifest = driver.Manifest{
	ID:           ManifestID,
	Name:         "Forge Worker",
	Version:      "1.0.0",
	DriverType:   driver.TypeTool,
	Capabilities: []string{"worker.task"},
	Enabled:      true,
}

// Driver dispatches WorkerTaskEvents against a forge.ForgeProvider,
// tracking each task as an issue on the target repository.
type Driver struct {
	forge  forge.ForgeProvider
	logger *slog.Logger
}

// New constructs a Driver over an already-configured forge provider
// (e.g. *forge.GitHub).
func New(fp forge.ForgeProvider, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{forge: fp, logger: logger}
}

// Initialize implements driver.Driver.
func (d *Driver) Initialize(context.Context, map[string]any) error {
	if d.forge == nil {
		return fmt.Errorf("refdrivers/worker: no forge provider configured")
	}
	return nil
}

// HandleEvent implements driver.Driver: worker.task opens a tracking
// issue describing the task (or its command list) on repo_url and
// emits worker.task.completed once it exists.
func (d *Driver) HandleEvent(ctx context.Context, e event.Event) ([]event.Event, error) {
	if e.Type != "worker.task" {
		return nil, nil
	}

	repoURL, _ := e.Metadata["repo_url"].(string)
	if repoURL == "" {
		return nil, fmt.Errorf("refdrivers/worker: worker.task missing repo_url")
	}
	repo := repoSlug(repoURL)

	body := taskBody(e)
	issue, err := d.forge.CreateIssue(ctx, repo, &forge.Issue{
		Title: "Worker task",
		Body:  body,
	})
	if err != nil {
		return nil, fmt.Errorf("refdrivers/worker: create tracking issue on %q: %w", repo, err)
	}

	out, err := event.New("refdrivers.worker", "worker.task.completed", e.UserID)
	if err != nil {
		return nil, err
	}
	out.Metadata["repo_url"] = repoURL
	out.Metadata["issue_number"] = issue.Number
	out.Metadata["issue_url"] = issue.URL
	return []event.Event{out.WithHistory(e)}, nil
}

// taskBody renders the task's free-text description or command list
// into an issue body.
func taskBody(e event.Event) string {
	if task, ok := e.Metadata["task"].(string); ok && task != "" {
		return task
	}
	if raw, ok := e.Metadata["commands"].([]any); ok {
		cmds := make([]string, 0, len(raw))
		for _, c := range raw {
			if s, ok := c.(string); ok {
				cmds = append(cmds, s)
			}
		}
		return "Commands:\n" + strings.Join(cmds, "\n")
	}
	return ""
}

// repoSlug extracts "owner/repo" from a repo_url, tolerating both a
// bare slug and a full https URL.
func repoSlug(repoURL string) string {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "https://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://github.com/")
	trimmed = strings.TrimPrefix(trimmed, "git@github.com:")
	return strings.Trim(trimmed, "/")
}

// Shutdown implements driver.Driver.
func (d *Driver) Shutdown(context.Context) error { return nil }
