package activity

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS activity_log (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			event TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_activity_server ON activity_log(server_id, timestamp DESC);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, entries ...Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		meta, _ := json.Marshal(e.Metadata)
		if meta == nil || string(meta) == "null" {
			meta = []byte("{}")
		}
		batch.Queue(
			`INSERT INTO activity_log (id, server_id, user_id, source, event, ip, metadata, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.ServerID, e.UserID, e.Source, e.Event, e.IP, meta, e.Timestamp,
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) ListByServer(ctx context.Context, serverID string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, server_id, user_id, source, event, ip, metadata, timestamp
		 FROM activity_log WHERE server_id = $1 ORDER BY timestamp DESC LIMIT $2`, serverID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, server_id, user_id, source, event, ip, metadata, timestamp
		 FROM activity_log ORDER BY timestamp DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

type scannable interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows scannable) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ServerID, &e.UserID, &e.Source, &e.Event, &e.IP, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
