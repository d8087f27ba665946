// Package clean implements the workflow-run cleanup module.
// On the daily event it deletes github action workflow runs that are
// older than the configured retention period.
package clean

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/module"
	"github.com/simplesurance/ghqueue/internal/qerr"
)

const (
	Name  = "clean"
	title = "Workflow Run Cleanup"

	eventCleanWorkflowRuns = "clean-workflow-runs"

	defRetentionDays = 30
)

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Name() string  { return Name }
func (m *Module) Title() string { return title }

func (m *Module) GetActions(actionCtx *module.GetActionContext) ([]module.Action, error) {
	if actionCtx.EventName != "daily" {
		return nil, nil
	}

	return []module.Action{{Name: eventCleanWorkflowRuns}}, nil
}

func (m *Module) Process(ctx context.Context, processCtx *module.ProcessContext) (*module.Result, error) {
	retentionDays := defRetentionDays
	if v, exist := processCtx.ModuleConfig["retention_days"]; exist {
		days, ok := toInt(v)
		if !ok || days <= 0 {
			return nil, qerr.NewConfigurationError(
				"retention_days must be a positive integer, got: %v", v,
			)
		}

		retentionDays = days
	}

	if processCtx.Github == nil {
		return nil, qerr.NewConfigurationError(
			"application %q has no github API token configured",
			processCtx.Application,
		)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	runs, err := processCtx.Github.ListWorkflowRunsBefore(
		ctx, processCtx.Owner, processCtx.Repository, cutoff,
	)
	if err != nil {
		return nil, err
	}

	var deleted, failed int
	var details strings.Builder

	for _, run := range runs {
		err := processCtx.Github.DeleteWorkflowRun(ctx, processCtx.Owner, processCtx.Repository, run.ID)
		if err != nil {
			failed++

			processCtx.Logger.Warn(
				"deleting workflow run failed",
				logfields.Event("workflow_run_deletion_failed"),
				zap.Int64("github.workflow_run_id", run.ID),
				zap.Error(err),
			)

			fmt.Fprintf(&details, "- failed to delete run %d (%s): %s\n", run.ID, run.Name, err)

			continue
		}

		deleted++
		fmt.Fprintf(&details, "- deleted run %d (%s), created %s\n", run.ID, run.Name, run.CreatedAt.Format(time.RFC3339))
	}

	processCtx.Logger.Info(
		"workflow run cleanup finished",
		logfields.Event("workflow_run_cleanup_finished"),
		zap.Int("deleted_runs", deleted),
		zap.Int("failed_deletions", failed),
	)

	summary := fmt.Sprintf(
		"Deleted %d workflow runs older than %d days, %d deletions failed.",
		deleted, retentionDays, failed,
	)

	result := module.Result{
		Success: failed == 0,
		Output: &module.Output{
			Title: "Workflow run cleanup",
			Data:  summary + "\n\n" + details.String(),
		},
		Dashboard: module.Leaf(summary),
	}

	return &result, nil
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}
