package dispatch

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/store"
)

// The named priority lanes. Each lane runs an independent worker pool,
// jobs in a lane are processed FIFO by creation order.
const (
	LaneHigh      = "high"
	LaneStatus    = "status"
	LaneDashboard = "dashboard"
	LaneStandard  = "standard"
	LaneCron      = "cron"
	LaneLower     = "lower"
)

// DefaultLaneWorkers is used for lanes that the configuration does not
// size explicitly.
var DefaultLaneWorkers = map[string]int{
	LaneHigh:      2,
	LaneStatus:    2,
	LaneDashboard: 1,
	LaneStandard:  4,
	LaneCron:      1,
	LaneLower:     1,
}

// interactive webhook event types are scheduled on the high lane so
// that a backlog of cron work does not delay user-visible reactions.
var interactiveEvents = map[string]struct{}{
	"pull_request":        {},
	"pull_request_review": {},
	"issue_comment":       {},
	"issues":              {},
	"push":                {},
	"check_run":           {},
	"check_suite":         {},
}

// LaneAssigner maps a job deterministically to a lane.
// Configured gojq filter rules are evaluated first, in order; the
// built-in defaults apply when no rule matches.
type LaneAssigner struct {
	rules  []*laneRule
	logger *zap.Logger
}

type laneRule struct {
	lane  string
	query *gojq.Query
	raw   string
}

func NewLaneAssigner(rules []*cfg.LaneRule) (*LaneAssigner, error) {
	a := LaneAssigner{
		logger: zap.L().Named("lane-assigner"),
	}

	for _, r := range rules {
		query, err := gojq.Parse(r.FilterQuery)
		if err != nil {
			return nil, fmt.Errorf("parsing filter query %q failed: %w", r.FilterQuery, err)
		}

		a.rules = append(a.rules, &laneRule{
			lane:  r.Lane,
			query: query,
			raw:   r.FilterQuery,
		})
	}

	return &a, nil
}

// Assign returns the lane for the job.
// An action-pinned lane wins, then the configured rules, then the
// built-in defaults.
func (a *LaneAssigner) Assign(ctx context.Context, job *store.Job) string {
	if job.Lane != "" {
		return job.Lane
	}

	input := map[string]any{
		"event_name":        job.EventName,
		"module_event_name": job.ModuleEventName,
		"module":            job.Module,
	}

	for _, rule := range a.rules {
		match, err := a.evalRule(ctx, rule, input)
		if err != nil {
			a.logger.Error(
				"evaluating lane rule failed, rule is skipped",
				logfields.Event("lane_rule_evaluation_failed"),
				logfields.JobID(job.ID),
				zap.String("filter_query", rule.raw),
				zap.Error(err),
			)

			continue
		}

		if match {
			return rule.lane
		}
	}

	return defaultLane(job)
}

func (a *LaneAssigner) evalRule(ctx context.Context, rule *laneRule, input map[string]any) (bool, error) {
	iter := rule.query.RunWithContext(ctx, input)

	res, ok := iter.Next()
	if !ok {
		return false, fmt.Errorf("json query returned 0 results, expected 1, query: %q", rule.raw)
	}

	switch val := res.(type) {
	case error:
		return false, val
	case bool:
		return val, nil
	default:
		return false, fmt.Errorf("json query returned non-bool result: %+v (%T), query: %q", val, val, rule.raw)
	}
}

func defaultLane(job *store.Job) string {
	switch job.EventName {
	case "dashboard":
		return LaneDashboard
	case "daily", "weekly", "monthly", "cron":
		return LaneCron
	}

	if _, interactive := interactiveEvents[job.EventName]; interactive {
		return LaneHigh
	}

	return LaneStandard
}
