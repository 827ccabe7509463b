package container

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// DefaultChunkSize is the number of records stored per chunk when the caller
// does not specify one.
const DefaultChunkSize = 4096

// Class identifies the storage class of a dataset field.
type Class byte

const (
	// ClassInt is a signed little-endian integer of the field's byte size.
	ClassInt Class = iota + 1
	// ClassUint is an unsigned little-endian integer.
	ClassUint
	// ClassFloat is an IEEE-754 floating point value.
	ClassFloat
	// ClassString is a fixed-length, zero-padded byte string.
	ClassString
)

// FieldInfo describes one field of a dataset: its name, storage class,
// byte size and offset within the record stride.
type FieldInfo struct {
	Name   string
	Class  Class
	Size   int
	Offset int
}

// Error wraps a container failure with the operation that caused it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "container: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrNotFound is returned when a group, dataset or attribute does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a group or dataset that already exists.
	ErrExists = errors.New("already exists")
	// ErrOutOfBounds is returned when a record range lies outside a dataset.
	ErrOutOfBounds = errors.New("record range out of bounds")
)

// Config holds the connection tuning for a container file.
type Config struct {
	// CacheKB is the SQLite page cache size in KB.
	CacheKB int
	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, ...).
	JournalMode string
	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL).
	Synchronous string
	// BusyTimeout is the lock acquisition timeout in milliseconds.
	BusyTimeout int
	// Passphrase, when non-empty, enables AES-256-GCM encryption of chunk
	// payloads with a key derived from the passphrase.
	Passphrase string
	// Logger receives container error reports. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default container tuning.
func DefaultConfig() Config {
	return Config{
		CacheKB:     2000,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
	}
}

func (c *Config) normalize() {
	if c.CacheKB <= 0 {
		c.CacheKB = 2000
	}
	if c.JournalMode == "" {
		c.JournalMode = "WAL"
	}
	if c.Synchronous == "" {
		c.Synchronous = "NORMAL"
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// File is an open container file.
type File struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	quiet  bool
	enc    *Encryptor
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	name  TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS groups (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE(parent_id, name)
);
CREATE TABLE IF NOT EXISTS datasets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id   INTEGER NOT NULL,
	name       TEXT NOT NULL,
	stride     INTEGER NOT NULL,
	chunk_size INTEGER NOT NULL,
	nrecords   INTEGER NOT NULL DEFAULT 0,
	UNIQUE(group_id, name)
);
CREATE TABLE IF NOT EXISTS dataset_fields (
	dataset_id INTEGER NOT NULL,
	idx        INTEGER NOT NULL,
	name       TEXT NOT NULL,
	class      INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	offset     INTEGER NOT NULL,
	PRIMARY KEY (dataset_id, idx)
);
CREATE TABLE IF NOT EXISTS attributes (
	group_id INTEGER NOT NULL,
	dataset  TEXT NOT NULL,
	name     TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (group_id, dataset, name)
);
CREATE TABLE IF NOT EXISTS chunks (
	dataset_id INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	nrecords   INTEGER NOT NULL,
	flags      INTEGER NOT NULL,
	payload    BLOB NOT NULL,
	PRIMARY KEY (dataset_id, seq)
);
`

// Create creates a new container file. It fails if the file already exists.
func Create(path string, cfg Config) (*File, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, &Error{Op: "create", Err: ErrExists}
	}
	return open(path, cfg, true)
}

// Open opens an existing container file for reading and writing.
func Open(path string, cfg Config) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &Error{Op: "open", Err: ErrNotFound}
	}
	return open(path, cfg, false)
}

// OpenOrCreate opens the container file at path, creating it if necessary.
func OpenOrCreate(path string, cfg Config) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return Create(path, cfg)
	}
	return Open(path, cfg)
}

func open(path string, cfg Config, create bool) (*File, error) {
	cfg.normalize()

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=synchronous(%s)&_pragma=busy_timeout(%d)&_pragma=cache_size(-%d)",
		path, cfg.JournalMode, cfg.Synchronous, cfg.BusyTimeout, cfg.CacheKB)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	// The container is single-writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	f := &File{db: db, path: path, logger: cfg.Logger}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, &Error{Op: "init schema", Err: err}
	}

	if create {
		if _, err := db.Exec(`INSERT INTO groups (parent_id, name) VALUES (0, '/')`); err != nil {
			db.Close()
			return nil, &Error{Op: "init root group", Err: err}
		}
	}

	if cfg.Passphrase != "" {
		enc, err := f.setupEncryption(cfg.Passphrase, create)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.enc = enc
	}

	return f, nil
}

// Path returns the file path of the container.
func (f *File) Path() string { return f.path }

// Close closes the container file.
func (f *File) Close() error {
	return f.db.Close()
}

// SetQuiet suppresses (or restores) the container's error logging.
// Existence probes use this so that an expected failed open does not
// pollute the log.
func (f *File) SetQuiet(quiet bool) { f.quiet = quiet }

// Quiet reports whether error logging is currently suppressed.
func (f *File) Quiet() bool { return f.quiet }

func (f *File) fail(op string, err error) error {
	if !f.quiet {
		f.logger.Error("container operation failed", "op", op, "path", f.path, "err", err)
	}
	return &Error{Op: op, Err: err}
}

// Root returns the root group of the file.
func (f *File) Root() *Group {
	return &Group{f: f, id: 1, name: "/"}
}

// Group is a named node in the container tree. Groups hold child groups,
// datasets, and attributes on named datasets.
type Group struct {
	f    *File
	id   int64
	name string
}

// Name returns the group's name.
func (g *Group) Name() string { return g.name }

// File returns the container file the group belongs to.
func (g *Group) File() *File { return g.f }

// CreateGroup creates a child group. It fails if a group of that name
// already exists.
func (g *Group) CreateGroup(name string) (*Group, error) {
	res, err := g.f.db.Exec(`INSERT INTO groups (parent_id, name) VALUES (?, ?)`, g.id, name)
	if err != nil {
		return nil, g.f.fail("create group "+name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, g.f.fail("create group "+name, err)
	}
	return &Group{f: g.f, id: id, name: name}, nil
}

// OpenGroup opens a child group by name.
func (g *Group) OpenGroup(name string) (*Group, error) {
	var id int64
	err := g.f.db.QueryRow(`SELECT id FROM groups WHERE parent_id = ? AND name = ?`, g.id, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, g.f.fail("open group "+name, ErrNotFound)
	}
	if err != nil {
		return nil, g.f.fail("open group "+name, err)
	}
	return &Group{f: g.f, id: id, name: name}, nil
}

// GroupExists reports whether a child group of that name exists.
func (g *Group) GroupExists(name string) bool {
	quiet := g.f.quiet
	g.f.SetQuiet(true)
	_, err := g.OpenGroup(name)
	g.f.SetQuiet(quiet)
	return err == nil
}

// NumChildren returns the number of child groups and datasets.
func (g *Group) NumChildren() (int, error) {
	var n, m int
	if err := g.f.db.QueryRow(`SELECT COUNT(*) FROM groups WHERE parent_id = ?`, g.id).Scan(&n); err != nil {
		return 0, g.f.fail("count children", err)
	}
	if err := g.f.db.QueryRow(`SELECT COUNT(*) FROM datasets WHERE group_id = ?`, g.id).Scan(&m); err != nil {
		return 0, g.f.fail("count children", err)
	}
	return n + m, nil
}

// ChildName returns the name of the i-th child, with groups and datasets
// sorted together by name.
func (g *Group) ChildName(i int) (string, error) {
	rows, err := g.f.db.Query(`
		SELECT name FROM groups   WHERE parent_id = ?
		UNION ALL
		SELECT name FROM datasets WHERE group_id  = ?
		ORDER BY 1`, g.id, g.id)
	if err != nil {
		return "", g.f.fail("list children", err)
	}
	defer rows.Close()
	for j := 0; rows.Next(); j++ {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", g.f.fail("list children", err)
		}
		if j == i {
			return name, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", g.f.fail("list children", err)
	}
	return "", g.f.fail("list children", ErrOutOfBounds)
}

// SetAttr sets a string attribute on the named dataset in this group.
func (g *Group) SetAttr(dataset, name, value string) error {
	_, err := g.f.db.Exec(`
		INSERT INTO attributes (group_id, dataset, name, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (group_id, dataset, name) DO UPDATE SET value = excluded.value`,
		g.id, dataset, name, value)
	if err != nil {
		return g.f.fail("set attribute "+name, err)
	}
	return nil
}

// Attr reads a string attribute from the named dataset in this group.
func (g *Group) Attr(dataset, name string) (string, error) {
	var value string
	err := g.f.db.QueryRow(`SELECT value FROM attributes WHERE group_id = ? AND dataset = ? AND name = ?`,
		g.id, dataset, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", g.f.fail("get attribute "+name, ErrNotFound)
	}
	if err != nil {
		return "", g.f.fail("get attribute "+name, err)
	}
	return value, nil
}
