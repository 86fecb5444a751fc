package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hearth/api/model"
)

// Each collection lives in its own table holding the JSON document.
var collections = []string{"nodes", "servers", "users", "eggs", "backups", "schedules"}

type DB struct {
	Pool *pgxpool.Pool
}

func Connect(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func Migrate(db *DB) error {
	ctx := context.Background()
	for _, name := range collections {
		_, err := db.Pool.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %[1]s (
				id         TEXT PRIMARY KEY,
				seq        BIGSERIAL,
				doc        JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_%[1]s_seq ON %[1]s(seq);
		`, name))
		if err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	_, err := db.Pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_servers_node ON servers ((doc->>'nodeId'));
		CREATE INDEX IF NOT EXISTS idx_servers_owner ON servers ((doc->>'ownerId'));
		CREATE INDEX IF NOT EXISTS idx_backups_server ON backups ((doc->>'serverId'));
	`)
	return err
}

// Healthy checks the database connection.
func (db *DB) Healthy(ctx context.Context) error {
	var n int
	return db.Pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}

// Store returns the collection set backed by this database.
func (db *DB) Store() *Store {
	return &Store{
		Nodes:     &pgCollection[model.Node]{pool: db.Pool, table: "nodes"},
		Servers:   &pgCollection[model.Server]{pool: db.Pool, table: "servers"},
		Users:     &pgCollection[model.User]{pool: db.Pool, table: "users"},
		Eggs:      &pgCollection[model.Egg]{pool: db.Pool, table: "eggs"},
		Backups:   &pgCollection[model.Backup]{pool: db.Pool, table: "backups"},
		Schedules: &pgCollection[model.Schedule]{pool: db.Pool, table: "schedules"},
		healthy:   db.Healthy,
		close: func() error {
			db.Close()
			return nil
		},
	}
}

type pgCollection[T Record] struct {
	pool  *pgxpool.Pool
	table string
}

func (c *pgCollection[T]) Get(ctx context.Context, id string) (*T, error) {
	var doc []byte
	err := c.pool.QueryRow(ctx, `SELECT doc FROM `+c.table+` WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", c.table, id, err)
	}
	return &v, nil
}

func (c *pgCollection[T]) List(ctx context.Context) ([]T, error) {
	rows, err := c.pool.Query(ctx, `SELECT doc FROM `+c.table+` ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c *pgCollection[T]) Insert(ctx context.Context, v *T) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx,
		`INSERT INTO `+c.table+` (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		(*v).RecordID(), doc,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (c *pgCollection[T]) Update(ctx context.Context, v *T) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx,
		`UPDATE `+c.table+` SET doc = $1, updated_at = now() WHERE id = $2`,
		doc, (*v).RecordID(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (c *pgCollection[T]) Delete(ctx context.Context, id string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM `+c.table+` WHERE id = $1`, id)
	return err
}
