package storage

import (
	"context"
	"fmt"
)

// ListenChannel is the NOTIFY channel fired on every target write.
const ListenChannel = "targets_changed"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS targets (
		id BIGINT PRIMARY KEY,
		url TEXT NOT NULL,
		value TEXT NOT NULL,
		max_accepts_per_day TEXT NOT NULL,
		geo_states TEXT[] NOT NULL DEFAULT '{}',
		hours TEXT[] NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE OR REPLACE FUNCTION notify_targets_changed() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + ListenChannel + `', '');
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql`,
	`CREATE OR REPLACE TRIGGER targets_changed_notify
		AFTER INSERT OR UPDATE OR DELETE ON targets
		FOR EACH STATEMENT EXECUTE FUNCTION notify_targets_changed()`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate targets schema: %w", err)
		}
	}
	return nil
}
