package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/ghqueue/internal/cfg"
	"github.com/simplesurance/ghqueue/internal/qerr"
	"github.com/simplesurance/ghqueue/internal/store"
)

type recordingStore struct {
	created []store.CreateJobParams
	nextID  int64
}

func (s *recordingStore) CreateJob(_ context.Context, p store.CreateJobParams) (*store.Job, error) {
	s.created = append(s.created, p)
	s.nextID++

	return &store.Job{
		ID:          s.nextID,
		Application: p.Application,
		Owner:       p.Owner,
		Repository:  p.Repository,
		EventName:   p.EventName,
		EventData:   p.EventData,
		Status:      store.StatusNew,
	}, nil
}

func newTestIngestor(st Store) *Ingestor {
	return New(st, &cfg.Config{
		Applications: []*cfg.Application{{Name: "myapp"}},
	})
}

func TestIngestWebhook(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	st := &recordingStore{}
	in := newTestIngestor(st)

	eventData := map[string]any{
		"action": "opened",
		"repository": map[string]any{
			"full_name": "fho/testrepo",
		},
	}

	job, err := in.IngestWebhook(context.Background(), "myapp", "pull_request", eventData)
	require.NoError(t, err)

	assert.Equal(t, "fho", job.Owner)
	assert.Equal(t, "testrepo", job.Repository)
	assert.Equal(t, store.StatusNew, job.Status)

	require.Len(t, st.created, 1)
	assert.Equal(t, "pull_request", st.created[0].EventName)
	assert.Empty(t, st.created[0].Module)
	assert.Equal(t, store.StatusNew, st.created[0].Status)
}

func TestIngestWebhookUnknownApplication(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	st := &recordingStore{}
	in := newTestIngestor(st)

	_, err := in.IngestWebhook(context.Background(), "unknown", "push", map[string]any{
		"repository": map[string]any{"full_name": "fho/testrepo"},
	})

	var validationErr *qerr.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Empty(t, st.created)
}

func TestIngestWebhookWithoutRepository(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	st := &recordingStore{}
	in := newTestIngestor(st)

	testcases := []struct {
		name      string
		eventData map[string]any
	}{
		{name: "no repository field", eventData: map[string]any{"action": "opened"}},
		{name: "repository not an object", eventData: map[string]any{"repository": "str"}},
		{name: "full_name missing", eventData: map[string]any{"repository": map[string]any{}}},
		{name: "full_name without slash", eventData: map[string]any{"repository": map[string]any{"full_name": "norepo"}}},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := in.IngestWebhook(context.Background(), "myapp", "push", tc.eventData)

			var validationErr *qerr.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}

	assert.Empty(t, st.created)
}

func TestIngestWebhookEmptyEventName(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	in := newTestIngestor(&recordingStore{})

	_, err := in.IngestWebhook(context.Background(), "myapp", "", map[string]any{
		"repository": map[string]any{"full_name": "fho/testrepo"},
	})

	var validationErr *qerr.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestIngestSynthetic(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	st := &recordingStore{}
	in := newTestIngestor(st)

	job, err := in.IngestSynthetic(context.Background(), "myapp", "daily", "fho", "testrepo")
	require.NoError(t, err)

	assert.Equal(t, "daily", job.EventName)
	assert.Equal(t, map[string]any{"type": "event", "name": "daily"}, job.EventData)

	require.Len(t, st.created, 1)
	assert.Equal(t, "fho", st.created[0].Owner)
	assert.Equal(t, "testrepo", st.created[0].Repository)
}

func TestIngestSyntheticUnknownApplication(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	in := newTestIngestor(&recordingStore{})

	_, err := in.IngestSynthetic(context.Background(), "unknown", "daily", "", "")

	var validationErr *qerr.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
