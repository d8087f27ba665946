package automerge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/ghqueue/internal/module"
	"github.com/simplesurance/ghqueue/internal/qerr"
)

func TestGetActionsOnLabeledPullRequest(t *testing.T) {
	m := New()

	actions, err := m.GetActions(&module.GetActionContext{
		EventName: "pull_request",
		EventData: map[string]any{"action": "labeled"},
	})
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, eventMergePullRequest, actions[0].Name)
}

func TestGetActionsIgnoresOtherPullRequestActions(t *testing.T) {
	m := New()

	for _, action := range []string{"opened", "closed", "unlabeled", "synchronize"} {
		actions, err := m.GetActions(&module.GetActionContext{
			EventName: "pull_request",
			EventData: map[string]any{"action": action},
		})
		require.NoError(t, err)
		assert.Empty(t, actions, "action %q must be ignored", action)
	}
}

func TestGetActionsIgnoresOtherEvents(t *testing.T) {
	m := New()

	actions, err := m.GetActions(&module.GetActionContext{
		EventName: "issues",
		EventData: map[string]any{"action": "labeled"},
	})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestProcessWithoutGithubClient(t *testing.T) {
	m := New()

	_, err := m.Process(context.Background(), &module.ProcessContext{
		Logger:      zaptest.NewLogger(t),
		Application: "myapp",
	})

	var confErr *qerr.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestEventFieldHelpers(t *testing.T) {
	eventData := map[string]any{
		"action": "labeled",
		"label":  map[string]any{"name": "automerge"},
		"pull_request": map[string]any{
			"number": float64(17),
		},
	}

	assert.Equal(t, "labeled", stringField(eventData, "action"))
	assert.Equal(t, "automerge", stringField(mapField(eventData, "label"), "name"))

	nr, ok := numberField(mapField(eventData, "pull_request"), "number")
	require.True(t, ok)
	assert.Equal(t, 17, nr)

	_, ok = numberField(mapField(eventData, "missing"), "number")
	assert.False(t, ok)

	assert.Empty(t, stringField(nil, "action"))
	assert.Nil(t, mapField(nil, "label"))
}
