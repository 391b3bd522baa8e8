package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"traffic-router/internal/config"
	"traffic-router/internal/engine"
)

// Store is the durable target registry backed by Postgres. Every write
// fires a NOTIFY on the configured channel so other nodes can refresh
// their snapshots (see internal/listener).
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListAll loads every registered target.
func (s *Store) ListAll(ctx context.Context) ([]engine.Target, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, url, value, max_accepts_per_day, geo_states, hours
		FROM targets
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var out []engine.Target
	for rows.Next() {
		var (
			id                     int64
			url, value, maxAccepts string
			geos, hours            []string
		)
		if err := rows.Scan(&id, &url, &value, &maxAccepts, &geos, &hours); err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		out = append(out, engine.Target{
			ID:               engine.Scalar(strconv.FormatInt(id, 10)),
			URL:              url,
			Value:            engine.Scalar(value),
			MaxAcceptsPerDay: engine.Scalar(maxAccepts),
			Accept: engine.Accept{
				GeoState: engine.MatchSet{In: geos},
				Hour:     engine.MatchSet{In: hours},
			},
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Get returns one target by numeric id; found is false when absent.
func (s *Store) Get(ctx context.Context, id int64) (engine.Target, bool, error) {
	var (
		url, value, maxAccepts string
		geos, hours            []string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT url, value, max_accepts_per_day, geo_states, hours
		FROM targets WHERE id = $1
	`, id).Scan(&url, &value, &maxAccepts, &geos, &hours)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.Target{}, false, nil
		}
		return engine.Target{}, false, fmt.Errorf("query target %d: %w", id, err)
	}
	return engine.Target{
		ID:               engine.Scalar(strconv.FormatInt(id, 10)),
		URL:              url,
		Value:            engine.Scalar(value),
		MaxAcceptsPerDay: engine.Scalar(maxAccepts),
		Accept: engine.Accept{
			GeoState: engine.MatchSet{In: geos},
			Hour:     engine.MatchSet{In: hours},
		},
	}, true, nil
}

// Insert adds a new target. Returns false without error when the id is
// already taken.
func (s *Store) Insert(ctx context.Context, id int64, t engine.Target) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO targets (id, url, value, max_accepts_per_day, geo_states, hours)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, id, t.URL, string(t.Value), string(t.MaxAcceptsPerDay), t.Accept.GeoState.In, t.Accept.Hour.In)
	if err != nil {
		return false, fmt.Errorf("insert target %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Update overwrites an existing target. Returns false without error
// when the id does not exist.
func (s *Store) Update(ctx context.Context, id int64, t engine.Target) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE targets
		SET url = $2, value = $3, max_accepts_per_day = $4,
		    geo_states = $5, hours = $6, updated_at = now()
		WHERE id = $1
	`, id, t.URL, string(t.Value), string(t.MaxAcceptsPerDay), t.Accept.GeoState.In, t.Accept.Hour.In)
	if err != nil {
		return false, fmt.Errorf("update target %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) PgxPool() *pgxpool.Pool { return s.pool }
