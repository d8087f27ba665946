package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/store"
)

func TestDefaultLaneAssignment(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	assigner, err := NewLaneAssigner(nil)
	require.NoError(t, err)

	testcases := []struct {
		eventName string
		wantLane  string
	}{
		{eventName: "pull_request", wantLane: LaneHigh},
		{eventName: "issue_comment", wantLane: LaneHigh},
		{eventName: "push", wantLane: LaneHigh},
		{eventName: "dashboard", wantLane: LaneDashboard},
		{eventName: "daily", wantLane: LaneCron},
		{eventName: "weekly", wantLane: LaneCron},
		{eventName: "deployment", wantLane: LaneStandard},
		{eventName: "workflow_run", wantLane: LaneStandard},
	}

	for _, tc := range testcases {
		t.Run(tc.eventName, func(t *testing.T) {
			lane := assigner.Assign(context.Background(), &store.Job{EventName: tc.eventName})
			assert.Equal(t, tc.wantLane, lane)
		})
	}
}

func TestPinnedLaneWinsOverRules(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	assigner, err := NewLaneAssigner([]*cfg.LaneRule{
		{Lane: LaneLower, FilterQuery: `true`},
	})
	require.NoError(t, err)

	lane := assigner.Assign(context.Background(), &store.Job{
		EventName: "pull_request",
		Lane:      LaneCron,
	})

	assert.Equal(t, LaneCron, lane)
}

func TestLaneRuleMatches(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	assigner, err := NewLaneAssigner([]*cfg.LaneRule{
		{Lane: LaneLower, FilterQuery: `.module == "clean"`},
		{Lane: LaneStatus, FilterQuery: `.event_name == "status"`},
	})
	require.NoError(t, err)

	lane := assigner.Assign(context.Background(), &store.Job{
		EventName: "daily",
		Module:    "clean",
	})
	assert.Equal(t, LaneLower, lane)

	lane = assigner.Assign(context.Background(), &store.Job{
		EventName: "status",
		Module:    "automerge",
	})
	assert.Equal(t, LaneStatus, lane)
}

func TestLaneRuleNoMatchFallsBackToDefault(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	assigner, err := NewLaneAssigner([]*cfg.LaneRule{
		{Lane: LaneLower, FilterQuery: `.module == "clean"`},
	})
	require.NoError(t, err)

	lane := assigner.Assign(context.Background(), &store.Job{
		EventName: "pull_request",
		Module:    "automerge",
	})

	assert.Equal(t, LaneHigh, lane)
}

func TestLaneRuleInvalidQueryFailsConstruction(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	_, err := NewLaneAssigner([]*cfg.LaneRule{
		{Lane: LaneLower, FilterQuery: `.module ==`},
	})

	assert.Error(t, err)
}

func TestLaneRuleNonBoolResultIsSkipped(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	assigner, err := NewLaneAssigner([]*cfg.LaneRule{
		{Lane: LaneLower, FilterQuery: `.module`},
	})
	require.NoError(t, err)

	lane := assigner.Assign(context.Background(), &store.Job{
		EventName: "pull_request",
		Module:    "automerge",
	})

	assert.Equal(t, LaneHigh, lane)
}
