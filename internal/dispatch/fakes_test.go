package dispatch

import (
	"context"
	"sync"

	"github.com/simplesurance/ghqueue/internal/module"
)

type fakeModule struct {
	name          string
	title         string
	actions       []module.Action
	getActionsErr error
	processFn     func(ctx context.Context, processCtx *module.ProcessContext) (*module.Result, error)

	mu        sync.Mutex
	processed []int64
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Title() string {
	if m.title == "" {
		return m.name
	}

	return m.title
}

func (m *fakeModule) GetActions(*module.GetActionContext) ([]module.Action, error) {
	return m.actions, m.getActionsErr
}

func (m *fakeModule) Process(ctx context.Context, processCtx *module.ProcessContext) (*module.Result, error) {
	m.mu.Lock()
	m.processed = append(m.processed, processCtx.JobID)
	m.mu.Unlock()

	if m.processFn != nil {
		return m.processFn(ctx, processCtx)
	}

	return &module.Result{Success: true}, nil
}

func (m *fakeModule) processedJobIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]int64{}, m.processed...)
}

// memDashStore is an in-memory dashboard.Store for tests.
type memDashStore struct {
	mu       sync.Mutex
	sections map[string]map[string]*module.Fragment
	versions map[string]int64
}

func newMemDashStore() *memDashStore {
	return &memDashStore{
		sections: map[string]map[string]*module.Fragment{},
		versions: map[string]int64{},
	}
}

func dashKey(application, owner, repository string) string {
	return application + "/" + owner + "/" + repository
}

func (m *memDashStore) GetDashboard(_ context.Context, application, owner, repository string) (map[string]*module.Fragment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dashKey(application, owner, repository)

	result := map[string]*module.Fragment{}
	for name, fragment := range m.sections[key] {
		result[name] = fragment
	}

	return result, m.versions[key], nil
}

func (m *memDashStore) PutDashboard(_ context.Context, application, owner, repository string, sections map[string]*module.Fragment, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dashKey(application, owner, repository)

	m.sections[key] = sections
	m.versions[key] = expectedVersion + 1

	return nil
}
