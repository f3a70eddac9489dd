// Package storage persists canvas documents in SQLite.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"make_real/canvas"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding documents, shapes and generations.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "make_real.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// 单连接，避免 "database is locked"；:memory: 也依赖这一点共享同一个库。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Documents ---

// EnsureDocument creates the document row if it does not exist yet.
func (s *Store) EnsureDocument(id string) error {
	_, err := s.db.Exec(`INSERT INTO documents (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(timeLayout))
	return err
}

func (s *Store) ListDocuments() ([]Document, error) {
	rows, err := s.db.Query(`SELECT id, created_at FROM documents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Shapes ---

// SaveShape upserts a shape. A new shape is appended after the existing
// ones; an update keeps its position.
func (s *Store) SaveShape(docID string, sh canvas.Shape) error {
	if err := s.EnsureDocument(docID); err != nil {
		return fmt.Errorf("ensure document %s: %w", docID, err)
	}
	props, err := json.Marshal(sh.Props)
	if err != nil {
		return fmt.Errorf("encoding props: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO shapes (id, document_id, type, parent_id, x, y, props_json, seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM shapes WHERE document_id = ?), ?)
		ON CONFLICT(document_id, id) DO UPDATE SET
			type = excluded.type,
			parent_id = excluded.parent_id,
			x = excluded.x,
			y = excluded.y,
			props_json = excluded.props_json,
			updated_at = excluded.updated_at`,
		string(sh.ID), docID, string(sh.Type), string(sh.ParentID), sh.X, sh.Y, string(props), docID,
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) DeleteShape(docID string, id canvas.ShapeID) error {
	res, err := s.db.Exec(`DELETE FROM shapes WHERE document_id = ? AND id = ?`, docID, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadShapes returns the shapes of a document in creation order.
func (s *Store) LoadShapes(docID string) ([]canvas.Shape, error) {
	rows, err := s.db.Query(`
		SELECT id, type, parent_id, x, y, props_json
		FROM shapes WHERE document_id = ? ORDER BY seq ASC`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shapes []canvas.Shape
	for rows.Next() {
		var (
			sh                   canvas.Shape
			id, typ, parent, raw string
		)
		if err := rows.Scan(&id, &typ, &parent, &sh.X, &sh.Y, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &sh.Props); err != nil {
			return nil, fmt.Errorf("decoding props of %s: %w", id, err)
		}
		sh.ID = canvas.ShapeID(id)
		sh.Type = canvas.ShapeType(typ)
		sh.ParentID = canvas.ShapeID(parent)
		shapes = append(shapes, sh)
	}
	return shapes, rows.Err()
}

// --- Generations ---

func (s *Store) RecordGeneration(g Generation) (Generation, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO generations (id, document_id, shape_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.DocumentID, g.ShapeID, g.Status, g.Error, g.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Generation{}, err
	}
	return g, nil
}

// ListGenerations returns the most recent generations of a document, newest first.
func (s *Store) ListGenerations(docID string, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, document_id, shape_id, status, error, created_at
		FROM generations WHERE document_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, docID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var g Generation
		var createdAt string
		if err := rows.Scan(&g.ID, &g.DocumentID, &g.ShapeID, &g.Status, &g.Error, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		g.CreatedAt = t
		out = append(out, g)
	}
	return out, rows.Err()
}

// Persister adapts the store to canvas.Persister. Deleting a shape that
// was never saved is not an error.
type Persister struct {
	Store *Store
}

func (p Persister) SaveShape(docID string, sh canvas.Shape) error {
	return p.Store.SaveShape(docID, sh)
}

func (p Persister) DeleteShape(docID string, id canvas.ShapeID) error {
	err := p.Store.DeleteShape(docID, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
