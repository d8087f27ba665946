// Package dashboard maintains the per-repository aggregate of the
// latest contribution of every module.
// Many concurrently running jobs update the same dashboard row; the
// merge is serialized through a compare-and-swap loop on the row
// version, so a concurrent update to another module's section is
// never lost.
package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/module"
	"github.com/simplesurance/ghqueue/internal/qerr"
	"github.com/simplesurance/ghqueue/internal/store"
)

const loggerName = "dashboard-merger"

const DefMaxMergeAttempts = 5

// Store is the subset of the job store the merger needs.
type Store interface {
	GetDashboard(ctx context.Context, application, owner, repository string) (map[string]*module.Fragment, int64, error)
	PutDashboard(ctx context.Context, application, owner, repository string, sections map[string]*module.Fragment, expectedVersion int64) error
}

type Merger struct {
	store                  Store
	logger                 *zap.Logger
	maxAttempts            int
	backoffInitialInterval time.Duration
}

func NewMerger(st Store) *Merger {
	return &Merger{
		store:                  st,
		logger:                 zap.L().Named(loggerName),
		maxAttempts:            DefMaxMergeAttempts,
		backoffInitialInterval: 50 * time.Millisecond,
	}
}

// MergeSection replaces the section owned by moduleName with fragment,
// keeping all other module sections untouched. A nil fragment removes
// the section.
// On a version conflict the read-merge-write cycle is retried with
// backoff; when the bounded attempt count is exhausted a
// qerr.ConflictError is returned.
func (m *Merger) MergeSection(ctx context.Context, application, owner, repository, moduleName string, fragment *module.Fragment) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.backoffInitialInterval

	var lastErr error

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		sections, version, err := m.store.GetDashboard(ctx, application, owner, repository)
		if err != nil {
			return err
		}

		if fragment == nil {
			delete(sections, moduleName)
		} else {
			sections[moduleName] = fragment
		}

		err = m.store.PutDashboard(ctx, application, owner, repository, sections, version)
		if err == nil {
			return nil
		}

		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}

		lastErr = err

		m.logger.Debug(
			"dashboard row changed concurrently, retrying merge",
			logfields.Event("dashboard_merge_conflict"),
			logfields.Repository(owner, repository),
			logfields.Module(moduleName),
			zap.Int("attempt", attempt),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}

	return qerr.NewConflictError(m.maxAttempts, lastErr)
}
