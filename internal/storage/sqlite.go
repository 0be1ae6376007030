package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the local SQLite database that backs every piece of durable
// state: the key/value entries (session snapshot, usage, subscription, theme),
// generated images, and feedback.
type Store struct {
	db *sql.DB
}

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

var pragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
}

// Open opens zenflow.db in dataDir, creating the directory and database as
// needed, and brings the schema up to date. MemoryDSN gives a throwaway
// database.
func Open(dataDir string) (*Store, error) {
	dsn := MemoryDSN
	if dataDir != MemoryDSN {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "zenflow.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dsn, err)
	}
	// One connection: SQLite has a single writer and each in-memory
	// connection would see its own database.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	migs, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(migs); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dsn, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migration is one NNN_name.sql file.
type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads dir from fsys in version order. Two files sharing a
// version number are rejected.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	migs := make([]migration, 0, len(names))
	seen := make(map[int]string, len(names))
	for _, name := range names {
		base := path.Base(name)
		prefix, _, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %q: name must start with a positive version and an underscore", base)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %q and %q share version %d", prev, base, version)
		}
		seen[version] = base
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", base, err)
		}
		migs = append(migs, migration{version: version, name: base, sql: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (s *Store) migrate(migs []migration) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for _, m := range migs {
		if m.version <= current {
			continue
		}
		if err := s.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(m migration) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.Exec(m.sql); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	if _, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("%s: recording version: %w", m.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", m.name, err)
	}
	return nil
}

// AppliedMigrations lists applied schema versions, oldest first.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version")
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

// --- Key/value ---

// GetValue returns the raw value stored under key, or ErrNotFound.
func (s *Store) GetValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetValue upserts key. The write is committed before SetValue returns.
func (s *Store) SetValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteValue removes key. Deleting a missing key is not an error.
func (s *Store) DeleteValue(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// --- Images ---

// SaveImage stores an image and returns its handle. A handle is generated
// when img.Handle is empty.
func (s *Store) SaveImage(img Image) (string, error) {
	if img.Handle == "" {
		img.Handle = uuid.New().String()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO images (handle, mime_type, data, prompt, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET mime_type = excluded.mime_type, data = excluded.data, prompt = excluded.prompt`,
		img.Handle, img.MIMEType, img.Data, img.Prompt, img.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", err
	}
	return img.Handle, nil
}

func (s *Store) GetImage(handle string) (Image, error) {
	var img Image
	var createdAt string
	err := s.db.QueryRow(`SELECT handle, mime_type, data, prompt, created_at FROM images WHERE handle = ?`, handle).
		Scan(&img.Handle, &img.MIMEType, &img.Data, &img.Prompt, &createdAt)
	if err == sql.ErrNoRows {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Image{}, fmt.Errorf("parsing created_at: %w", err)
	}
	img.CreatedAt = t
	return img, nil
}

func (s *Store) DeleteImage(handle string) error {
	res, err := s.db.Exec("DELETE FROM images WHERE handle = ?", handle)
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

// PruneImages deletes every image except keep. Only the image referenced by
// the current snapshot is worth retaining.
func (s *Store) PruneImages(keep string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM images WHERE handle != ?", keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Feedback ---

func (s *Store) SaveFeedback(f Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO feedback (id, created_at, sentiment, notes, flow) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.CreatedAt.UTC().Format(time.RFC3339), f.Sentiment, f.Notes, f.Flow,
	)
	return err
}

func (s *Store) ListFeedback(limit int) ([]Feedback, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, sentiment, notes, flow
		FROM feedback ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Feedback
	for rows.Next() {
		var f Feedback
		var createdAt string
		if err := rows.Scan(&f.ID, &createdAt, &f.Sentiment, &f.Notes, &f.Flow); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		f.CreatedAt = t
		results = append(results, f)
	}
	return results, rows.Err()
}
