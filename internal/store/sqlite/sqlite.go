// Package sqlite is the local record store: one SQLite database per
// workspace, every record held as a JSON payload keyed by collection and id.
// It backs offline work and the test suite; the remote package is its
// network-facing sibling.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"salesline/internal/fault"
	"salesline/internal/store"
)

const dbName = "salesline.db"

//go:embed sql/*.sql
var migrationsFS embed.FS

// Store implements store.Store on a workspace SQLite database.
type Store struct {
	DB *sql.DB

	// Now stamps record timestamps; tests pin it.
	Now func() time.Time
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".salesline", dbName)
}

// Path returns the database path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Open opens (creating if needed) the workspace database and applies
// pending migrations.
func Open(workspace string) (*Store, error) {
	dir := filepath.Dir(dbPath(workspace))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Store{DB: conn, Now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Create(ctx context.Context, c store.Collection, fields store.Record) (store.Record, error) {
	id := uuid.NewString()
	now := s.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO records(collection,id,payload,created_at,updated_at) VALUES (?,?,?,?,?)`,
		string(c), id, string(payload), now, now)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, c, id)
}

func (s *Store) Get(ctx context.Context, c store.Collection, id string) (store.Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT payload,created_at,updated_at FROM records WHERE collection=? AND id=?`, string(c), id)
	return scanRecord(row, c, id)
}

func (s *Store) Update(ctx context.Context, c store.Collection, id string, fields store.Record) (store.Record, error) {
	current, err := s.Get(ctx, c, id)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		current[k] = v
	}
	delete(current, "id")
	delete(current, "Created_Time")
	delete(current, "Modified_Time")
	payload, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC().Format(time.RFC3339)
	_, err = s.DB.ExecContext(ctx, `UPDATE records SET payload=?, updated_at=? WHERE collection=? AND id=?`,
		string(payload), now, string(c), id)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, c, id)
}

func (s *Store) Search(ctx context.Context, c store.Collection, q store.Query) ([]store.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,payload,created_at,updated_at FROM records WHERE collection=? ORDER BY created_at, id`, string(c))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var id, payload, created, updated string
		if err := rows.Scan(&id, &payload, &created, &updated); err != nil {
			return nil, err
		}
		rec := store.Record{}
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, err
		}
		rec["id"] = id
		rec["Created_Time"] = created
		rec["Modified_Time"] = updated
		if !store.MatchesAll(rec, q) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, c store.Collection, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM records WHERE collection=? AND id=?`, string(c), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.New(fault.NotFound, "%s record %s not found", c, id)
	}
	return nil
}

func scanRecord(row *sql.Row, c store.Collection, id string) (store.Record, error) {
	var payload, created, updated string
	err := row.Scan(&payload, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.NotFound, "%s record %s not found", c, id)
	}
	if err != nil {
		return nil, err
	}
	rec := store.Record{}
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, err
	}
	rec["id"] = id
	rec["Created_Time"] = created
	rec["Modified_Time"] = updated
	return rec, nil
}

type migration struct {
	version int
	name    string
	upSQL   string
}

func loadMigrations() ([]migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	var migrations []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, migration{version: v, name: f.Name(), upSQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

func migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		current = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(m.upSQL); err != nil {
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.version); err != nil {
			return fmt.Errorf("bump schema_version: %w", err)
		}
	}
	return tx.Commit()
}
