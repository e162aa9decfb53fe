package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/sentinel-jobs/internal/jobs"
)

// Built-in entity sources.
const (
	// SourceMLEnabledSecurities lists active securities with ML enabled.
	SourceMLEnabledSecurities = "ml_enabled_securities"
	// SourceActiveSecurities lists every active security with its market.
	SourceActiveSecurities = "active_securities"
)

// RegisterEntitySource makes a named source available to parameterized
// schedules. Registering an existing name replaces it.
func (s *Store) RegisterEntitySource(name string, source EntitySource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[name] = source
}

// ListEntities returns the rows of a named entity source.
func (s *Store) ListEntities(ctx context.Context, source string) ([]jobs.Entity, error) {
	s.mu.RLock()
	fn, ok := s.sources[source]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrUnknownParameterSource, source)
	}

	entities, err := fn(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", source, err)
	}
	return entities, nil
}

// querySource builds an EntitySource from a query. Every column becomes an
// entity field keyed by its column name.
func querySource(query string, args ...any) EntitySource {
	return func(ctx context.Context, db *sql.DB) ([]jobs.Entity, error) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return nil, err
		}

		var entities []jobs.Entity
		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, err
			}

			entity := make(jobs.Entity, len(columns))
			for i, column := range columns {
				entity[column] = values[i]
			}
			entities = append(entities, entity)
		}
		return entities, rows.Err()
	}
}

// QuerySource is querySource for callers registering their own sources.
func QuerySource(query string, args ...any) EntitySource {
	return querySource(query, args...)
}
