package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/simplesurance/ghqueue/internal/module"
)

// ErrVersionConflict is returned by PutDashboard when the row was
// modified since the version that the caller read.
var ErrVersionConflict = errors.New("dashboard version conflict")

// GetDashboard returns the per-module sections of the repository
// dashboard and the row version.
// When the repository has no dashboard row yet, an empty section map
// and version 0 are returned.
func (s *Store) GetDashboard(ctx context.Context, application, owner, repository string) (map[string]*module.Fragment, int64, error) {
	var (
		sectionsJSON []byte
		version      int64
	)

	err := s.pool.QueryRow(ctx, `
		SELECT sections, version FROM dashboards
		WHERE application = $1 AND owner = $2 AND repository = $3
	`, application, owner, repository).Scan(&sectionsJSON, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]*module.Fragment{}, 0, nil
	}

	if err != nil {
		return nil, 0, fmt.Errorf("query dashboard: %w", err)
	}

	var sections map[string]*module.Fragment
	if err := json.Unmarshal(sectionsJSON, &sections); err != nil {
		return nil, 0, fmt.Errorf("unmarshal dashboard sections: %w", err)
	}

	if sections == nil {
		sections = map[string]*module.Fragment{}
	}

	return sections, version, nil
}

// PutDashboard writes the sections conditionally on the version that
// was read before. ErrVersionConflict is returned when a concurrent
// writer committed in between; the caller is expected to re-read,
// re-merge and retry.
func (s *Store) PutDashboard(ctx context.Context, application, owner, repository string, sections map[string]*module.Fragment, expectedVersion int64) error {
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshal dashboard sections: %w", err)
	}

	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO dashboards (application, owner, repository, sections, version)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (application, owner, repository) DO NOTHING
		`, application, owner, repository, sectionsJSON)
		if err != nil {
			return fmt.Errorf("insert dashboard: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}

		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE dashboards
		SET sections = $4, version = version + 1, updated_at = now()
		WHERE application = $1 AND owner = $2 AND repository = $3
			AND version = $5
	`, application, owner, repository, sectionsJSON, expectedVersion)
	if err != nil {
		return fmt.Errorf("update dashboard: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}
