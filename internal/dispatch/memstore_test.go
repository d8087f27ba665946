package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/simplesurance/ghqueue/internal/store"
)

// memStore is an in-memory Store implementation for tests.
// Claiming mirrors the FIFO-per-lane semantics of the postgres store.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	jobs    []*store.Job
	outputs map[int64]memOutput
}

type memOutput struct {
	jobID   int64
	title   string
	data    string
	success bool
}

func newMemStore() *memStore {
	return &memStore{outputs: map[int64]memOutput{}}
}

func (m *memStore) CreateJob(_ context.Context, p store.CreateJobParams) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := p.Status
	if status == "" {
		status = store.StatusNew
	}

	m.nextID++

	job := store.Job{
		ID:              m.nextID,
		Application:     p.Application,
		Owner:           p.Owner,
		Repository:      p.Repository,
		Module:          p.Module,
		EventName:       p.EventName,
		ModuleEventName: p.ModuleEventName,
		EventData:       p.EventData,
		Status:          status,
		Lane:            p.Lane,
		CreatedAt:       time.Now(),
	}

	m.jobs = append(m.jobs, &job)

	return &job, nil
}

func (m *memStore) ListNew(_ context.Context, limit int) ([]*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*store.Job

	for _, job := range m.jobs {
		if job.Status != store.StatusNew {
			continue
		}

		result = append(result, job)
		if len(result) == limit {
			break
		}
	}

	return result, nil
}

func (m *memStore) Accept(_ context.Context, jobID int64, lane string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.byID(jobID)
	if job == nil || job.Status != store.StatusNew {
		return false, nil
	}

	job.Status = store.StatusPending
	job.Lane = lane

	return true, nil
}

func (m *memStore) FinishIntake(_ context.Context, jobID int64, status store.Status, log string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.byID(jobID)
	if job == nil || job.Status != store.StatusNew {
		return nil
	}

	job.Status = status
	job.Log = log

	return nil
}

func (m *memStore) ClaimNext(_ context.Context, lane, workerID string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status != store.StatusPending || job.Lane != lane {
			continue
		}

		job.Status = store.StatusProcessing
		job.ClaimedBy = workerID
		now := time.Now()
		job.StartedAt = &now

		return job, nil
	}

	return nil, nil
}

func (m *memStore) Complete(_ context.Context, jobID int64, status store.Status, log string, outputID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.byID(jobID)
	if job == nil || job.Status != store.StatusProcessing {
		return nil
	}

	job.Status = status
	job.Log = log
	job.OutputID = outputID
	now := time.Now()
	job.FinishedAt = &now

	return nil
}

func (m *memStore) CountByStatus(context.Context) (map[store.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := map[store.Status]int64{}
	for _, job := range m.jobs {
		result[job.Status]++
	}

	return result, nil
}

func (m *memStore) RecoverOrphans(context.Context, time.Duration, time.Duration) (int64, int64, error) {
	return 0, 0, nil
}

func (m *memStore) SaveOutput(_ context.Context, jobID int64, title, data string, success bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.outputs[m.nextID] = memOutput{jobID: jobID, title: title, data: data, success: success}

	return m.nextID, nil
}

func (m *memStore) byID(id int64) *store.Job {
	for _, job := range m.jobs {
		if job.ID == id {
			return job
		}
	}

	return nil
}

func (m *memStore) jobsWithStatus(status store.Status) []*store.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*store.Job

	for _, job := range m.jobs {
		if job.Status == status {
			result = append(result, job)
		}
	}

	return result
}
