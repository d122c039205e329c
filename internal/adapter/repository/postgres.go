package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS incidents (
		alert_id   TEXT PRIMARY KEY,
		seq_id     BIGINT NOT NULL,
		name       TEXT NOT NULL,
		occurred   TIMESTAMPTZ NOT NULL,
		severity   INT NOT NULL,
		type       TEXT NOT NULL,
		raw_json   JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS incidents_occurred_idx ON incidents (occurred DESC);
	CREATE TABLE IF NOT EXISTS bookmarks (
		key             TEXT PRIMARY KEY,
		last_fetched_id BIGINT NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

// PostgresRepository stores incidents and fetch bookmarks.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveBatch(ctx context.Context, incidents []domain.Incident) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO incidents (alert_id, seq_id, name, occurred, severity, type, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id) DO NOTHING
	`

	for _, inc := range incidents {
		batch.Queue(query,
			inc.AlertID,
			inc.SeqID,
			inc.Name,
			inc.Occurred,
			inc.Severity,
			inc.Type,
			inc.RawJSON,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range incidents {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch: %w", err)
		}
	}

	return nil
}

func (r *PostgresRepository) FindByAlertID(ctx context.Context, alertID string) (*domain.Incident, error) {
	query := `
		SELECT alert_id, seq_id, name, occurred, severity, type, raw_json::text
		FROM incidents
		WHERE alert_id = $1
		LIMIT 1
	`

	inc, err := scanIncident(r.db.QueryRow(ctx, query, alertID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &inc, nil
}

func (r *PostgresRepository) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Incident, error) {
	query := `
		SELECT alert_id, seq_id, name, occurred, severity, type, raw_json::text
		FROM incidents
		WHERE occurred >= $1
		ORDER BY occurred DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents since %v: %w", since, err)
	}
	defer rows.Close()

	var incidents []domain.Incident

	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return incidents, nil
}

// Load implements ports.BookmarkStore.
func (r *PostgresRepository) Load(ctx context.Context, key string) (domain.Bookmark, bool, error) {
	var bm domain.Bookmark
	err := r.db.QueryRow(ctx, `SELECT last_fetched_id FROM bookmarks WHERE key = $1`, key).Scan(&bm.LastFetchedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bookmark{}, false, nil
	}
	if err != nil {
		return domain.Bookmark{}, false, fmt.Errorf("failed to load bookmark %q: %w", key, err)
	}
	return bm, true, nil
}

// Save implements ports.BookmarkStore.
func (r *PostgresRepository) Save(ctx context.Context, key string, bm domain.Bookmark) error {
	query := `
		INSERT INTO bookmarks (key, last_fetched_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET last_fetched_id = EXCLUDED.last_fetched_id, updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, key, bm.LastFetchedID); err != nil {
		return fmt.Errorf("failed to save bookmark %q: %w", key, err)
	}
	return nil
}

func scanIncident(row pgx.Row) (domain.Incident, error) {
	var inc domain.Incident
	err := row.Scan(
		&inc.AlertID,
		&inc.SeqID,
		&inc.Name,
		&inc.Occurred,
		&inc.Severity,
		&inc.Type,
		&inc.RawJSON,
	)
	inc.Occurred = inc.Occurred.UTC()
	return inc, err
}
