package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// Sentinel errors for the storage layer. Callers match them with errors.Is.
var (
	// ErrStorage indicates the backing database is unreadable, unwritable,
	// or does not contain a valid session schema.
	ErrStorage = errors.New("storage error")

	// ErrClosed indicates an operation was attempted after Close.
	ErrClosed = errors.New("store is closed")

	// ErrInvalidName indicates a variable or parameter name that is not
	// acceptable at the store boundary.
	ErrInvalidName = errors.New("invalid name")
)

// Point is a single logged sample: a timestamp in seconds since the Unix
// epoch and the recorded value.
type Point struct {
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Reading is a named sample, as published to live consumers.
type Reading struct {
	Name      string  `json:"name"`
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
}

// schema defines the three session relations. The log is append-only;
// parameters are upsert-by-key.
const schema = `
CREATE TABLE log_names (
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp REAL NOT NULL,
	name TEXT NOT NULL,
	value REAL NOT NULL
);

CREATE INDEX idx_log_name_ts ON log(name, timestamp);

CREATE TABLE parameters (
	name TEXT PRIMARY KEY,
	value
);
`

// requiredTables are the relations a valid session database must contain.
var requiredTables = []string{"log", "log_names", "parameters"}

// Store is the durable time-series store backing one monitoring session.
//
// Store persists an append-only log of (timestamp, name, value) samples, a
// registry of distinct variable names, and an upsert-by-key parameter table.
// All methods are safe for concurrent use within a single process; mutating
// operations are serialized so no two appends race on name registration.
//
// Store is not safe for concurrent access from separate processes.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool

	// now returns the current wall-clock time in seconds since the Unix
	// epoch. Overridable in tests.
	now func() float64
}

// Open opens or creates the session database at path.
//
// A database with zero tables is freshly initialized. A non-empty database
// must already contain the session schema (log, log_names, parameters);
// anything else fails with [ErrStorage] so existing data is never destroyed.
//
// The caller must Close the returned store on every exit path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrStorage, path, err)
	}

	// single connection: SQLite serializes writers anyway, and one shared
	// connection guarantees readers always see fully committed rows
	db.SetMaxOpenConns(1)

	s := &Store{
		db:  db,
		now: func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the schema for a fresh database or validates an
// existing one.
func (s *Store) initSchema() error {
	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return fmt.Errorf("%w: failed to inspect schema: %v", ErrStorage, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("%w: failed to scan table name: %v", ErrStorage, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: failed to inspect schema: %v", ErrStorage, err)
	}

	if len(tables) == 0 {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("%w: failed to initialize schema: %v", ErrStorage, err)
		}
		return nil
	}

	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		have[t] = true
	}
	for _, t := range requiredTables {
		if !have[t] {
			return fmt.Errorf("%w: database exists but is missing table %q", ErrStorage, t)
		}
	}
	return nil
}

// validateName checks a variable or parameter name at the store boundary.
// Queries are always parameterized; this guards against names that would be
// unusable in logs and parameter keys.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: name %q contains control characters", ErrInvalidName, name)
		}
	}
	return nil
}

// checkOpen returns ErrClosed if the store has been closed.
func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append records one sample per variable, all stamped with the current
// wall-clock time, and returns the readings that were written.
//
// Unseen names are registered in the name registry first; registration and
// the log inserts happen in a single transaction, so either all entries of
// the call become visible or none do. Names are processed in sorted order
// for deterministic insertion ids. Appends are serialized; concurrent calls
// from multiple activities are safe.
func (s *Store) Append(values map[string]float64) ([]Reading, error) {
	if len(values) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(values))
	for name := range values {
		if err := validateName(name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	ts := s.now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin append: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	readings := make([]Reading, 0, len(names))
	for _, name := range names {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO log_names (name) VALUES (?)`, name); err != nil {
			return nil, fmt.Errorf("%w: failed to register name %q: %v", ErrStorage, name, err)
		}
		if _, err := tx.Exec(`INSERT INTO log (timestamp, name, value) VALUES (?, ?, ?)`, ts, name, values[name]); err != nil {
			return nil, fmt.Errorf("%w: failed to append %q: %v", ErrStorage, name, err)
		}
		readings = append(readings, Reading{Name: name, Timestamp: ts, Value: values[name]})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit append: %v", ErrStorage, err)
	}
	return readings, nil
}

// ReadAll returns the full history for a variable, ascending by timestamp
// (insertion order breaks ties). An unknown name yields an empty slice, not
// an error.
func (s *Store) ReadAll(name string) ([]Point, error) {
	return s.readPoints(name, `SELECT timestamp, value FROM log WHERE name = ? ORDER BY timestamp, id`, name)
}

// ReadSince returns the rows for a variable strictly newer than ts,
// ascending by timestamp.
func (s *Store) ReadSince(name string, ts float64) ([]Point, error) {
	return s.readPoints(name, `SELECT timestamp, value FROM log WHERE name = ? AND timestamp > ? ORDER BY timestamp, id`, name, ts)
}

func (s *Store) readPoints(name, query string, args ...any) ([]Point, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %v", ErrStorage, name, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", ErrStorage, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %v", ErrStorage, name, err)
	}
	return points, nil
}

// Latest returns the most recent sample for a variable. The second return
// value is false if the variable has never been logged.
func (s *Store) Latest(name string) (Point, bool, error) {
	if err := validateName(name); err != nil {
		return Point{}, false, err
	}
	if err := s.checkOpen(); err != nil {
		return Point{}, false, err
	}

	var p Point
	err := s.db.QueryRow(`SELECT timestamp, value FROM log WHERE name = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, name).Scan(&p.Timestamp, &p.Value)
	if err == sql.ErrNoRows {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, fmt.Errorf("%w: failed to read latest %q: %v", ErrStorage, name, err)
	}
	return p, true, nil
}

// Names returns every variable name registered so far, sorted.
func (s *Store) Names() ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT name FROM log_names ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list names: %v", ErrStorage, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: failed to scan name: %v", ErrStorage, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LatestAll returns a snapshot of the most recent sample for every
// registered variable. A registered name with no rows maps to nil.
func (s *Store) LatestAll() (map[string]*Point, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}

	result := make(map[string]*Point, len(names))
	for _, name := range names {
		p, ok, err := s.Latest(name)
		if err != nil {
			return nil, err
		}
		if ok {
			latest := p
			result[name] = &latest
		} else {
			result[name] = nil
		}
	}
	return result, nil
}

// SetParameter stores a numeric parameter, replacing any previous value for
// the same key.
func (s *Store) SetParameter(name string, value float64) error {
	return s.setParameter(name, value)
}

// SetParameterText stores an encoded (opaque) parameter value, replacing any
// previous value for the same key. Used for persisted presentation state.
func (s *Store) SetParameterText(name, value string) error {
	return s.setParameter(name, value)
}

func (s *Store) setParameter(name string, value any) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(`INSERT INTO parameters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("%w: failed to set parameter %q: %v", ErrStorage, name, err)
	}
	return nil
}

// Parameter returns a numeric parameter. The second return value is false if
// the key does not exist or holds a non-numeric value.
func (s *Store) Parameter(name string) (float64, bool, error) {
	raw, ok, err := s.parameter(name)
	if err != nil || !ok {
		return 0, false, err
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case int64:
		return float64(v), true, nil
	default:
		return 0, false, nil
	}
}

// ParameterText returns an encoded parameter stored with SetParameterText.
// The second return value is false if the key does not exist or holds a
// numeric value.
func (s *Store) ParameterText(name string) (string, bool, error) {
	raw, ok, err := s.parameter(name)
	if err != nil || !ok {
		return "", false, err
	}
	switch v := raw.(type) {
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	default:
		return "", false, nil
	}
}

func (s *Store) parameter(name string) (any, bool, error) {
	if err := validateName(name); err != nil {
		return nil, false, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	var raw any
	err := s.db.QueryRow(`SELECT value FROM parameters WHERE name = ?`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read parameter %q: %v", ErrStorage, name, err)
	}
	return raw, true, nil
}

// HasParameter reports whether a parameter exists for the key.
func (s *Store) HasParameter(name string) (bool, error) {
	_, ok, err := s.parameter(name)
	return ok, err
}

// Parameters returns a full dump of the parameter table. Text values come
// back as string, numeric values as float64.
func (s *Store) Parameters() (map[string]any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT name, value FROM parameters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dump parameters: %v", ErrStorage, err)
	}
	defer rows.Close()

	result := make(map[string]any)
	for rows.Next() {
		var name string
		var raw any
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("%w: failed to scan parameter: %v", ErrStorage, err)
		}
		switch v := raw.(type) {
		case []byte:
			result[name] = string(v)
		case int64:
			result[name] = float64(v)
		default:
			result[name] = v
		}
	}
	return result, rows.Err()
}

// Close releases the backing database handle. Subsequent operations fail
// with [ErrClosed]. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
