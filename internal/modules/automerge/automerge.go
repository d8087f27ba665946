// Package automerge implements the auto-merge module.
// Pull requests that are labeled with the configured trigger label are
// merged automatically.
package automerge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/githubclt"
	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/module"
	"github.com/simplesurance/ghqueue/internal/qerr"
)

const (
	Name  = "automerge"
	title = "Auto Merge"

	eventMergePullRequest = "merge-pull-request"

	defTriggerLabel = "automerge"
	defMergeMethod  = "squash"
)

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Name() string  { return Name }
func (m *Module) Title() string { return title }

// GetActions requests a merge job when the trigger label is added to a
// pull request. The label name is not checked here, GetActions has no
// access to the module configuration; Process re-checks it.
func (m *Module) GetActions(actionCtx *module.GetActionContext) ([]module.Action, error) {
	if actionCtx.EventName != "pull_request" {
		return nil, nil
	}

	if stringField(actionCtx.EventData, "action") != "labeled" {
		return nil, nil
	}

	return []module.Action{{Name: eventMergePullRequest}}, nil
}

func (m *Module) Process(ctx context.Context, processCtx *module.ProcessContext) (*module.Result, error) {
	if processCtx.Github == nil {
		return nil, qerr.NewConfigurationError(
			"application %q has no github API token configured",
			processCtx.Application,
		)
	}

	triggerLabel := defTriggerLabel
	if v, ok := processCtx.ModuleConfig["label"].(string); ok && v != "" {
		triggerLabel = v
	}

	mergeMethod := defMergeMethod
	if v, ok := processCtx.ModuleConfig["merge_method"].(string); ok && v != "" {
		mergeMethod = v
	}

	label := stringField(mapField(processCtx.EventData, "label"), "name")
	if label != triggerLabel {
		processCtx.Logger.Debug(
			"ignoring event, added label is not the trigger label",
			logfields.Event("automerge_label_mismatch"),
			zap.String("github.label", label),
		)

		return &module.Result{Success: true}, nil
	}

	prNumber, ok := numberField(mapField(processCtx.EventData, "pull_request"), "number")
	if !ok {
		return nil, fmt.Errorf("event payload contains no pull_request.number field")
	}

	logger := processCtx.Logger.With(zap.Int("github.pull_request_nr", prNumber))

	err := processCtx.Github.MergePullRequest(
		ctx, processCtx.Owner, processCtx.Repository, prNumber, mergeMethod,
	)
	if err != nil {
		if errors.Is(err, githubclt.ErrPullRequestNotMergeable) {
			logger.Info(
				"pull request is not mergeable, posting comment",
				logfields.Event("automerge_not_mergeable"),
			)

			comment := fmt.Sprintf(
				"The pull request is labeled %q but can not be merged automatically.",
				triggerLabel,
			)

			if err := processCtx.Github.CreateIssueComment(ctx, processCtx.Owner, processCtx.Repository, prNumber, comment); err != nil {
				return nil, err
			}

			return &module.Result{
				Success: false,
				Output: &module.Output{
					Title: "Auto merge",
					Data:  fmt.Sprintf("Pull request #%d is not mergeable.", prNumber),
				},
			}, nil
		}

		return nil, err
	}

	logger.Info(
		"pull request merged",
		logfields.Event("automerge_merged"),
	)

	return &module.Result{
		Success: true,
		Output: &module.Output{
			Title: "Auto merge",
			Data:  fmt.Sprintf("Pull request #%d was merged via %s.", prNumber, mergeMethod),
		},
	}, nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}

	v, _ := m[key].(string)

	return v
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}

	v, _ := m[key].(map[string]any)

	return v
}

func numberField(m map[string]any, key string) (int, bool) {
	if m == nil {
		return 0, false
	}

	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
