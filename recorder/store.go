package recorder

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migration/*.sql
var migrationFiles embed.FS

var ErrNoReadings = errors.New("no readings recorded")

// Reading is one sample of both channels.
type Reading struct {
	ID        int64     `json:"id"`
	Session   string    `json:"session"`
	Lux       float64   `json:"lux"`
	Proximity uint16    `json:"proximity"`
	Near      bool      `json:"near"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps readings in sqlite. Timestamps are stored as unix milliseconds.
type Store struct {
	db *sql.DB
}

// Open connects to the sqlite database at dsn (a file path or ":memory:")
// and runs the embedded migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", dsn, err)
	}
	// sqlite has a single writer; an in-memory database also lives in one connection only
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not connect to %s: %w", dsn, err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrationFiles, "migration")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := fs.ReadFile(migrationFiles, path.Join("migration", entry.Name()))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("migration %s failed: %w", entry.Name(), err)
		}
	}
	return nil
}

// Insert stores r and returns its id. A zero CreatedAt is replaced by the
// current time.
func (s *Store) Insert(ctx context.Context, r Reading) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO readings (session, lux, proximity, near, created_at) VALUES (?, ?, ?, ?, ?)",
		r.Session, r.Lux, r.Proximity, r.Near, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("could not insert reading: %w", err)
	}
	return res.LastInsertId()
}

const selectReadings = "SELECT id, session, lux, proximity, near, created_at FROM readings"

func (s *Store) Latest(ctx context.Context) (Reading, error) {
	row := s.db.QueryRowContext(ctx, selectReadings+" ORDER BY id DESC LIMIT 1")
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNoReadings
	}
	return r, err
}

// Session returns the readings of one sampling session, oldest first.
func (s *Store) Session(ctx context.Context, session string) ([]Reading, error) {
	return s.query(ctx, selectReadings+" WHERE session = ? ORDER BY id", session)
}

// Range returns readings taken in [from, to], oldest first.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]Reading, error) {
	return s.query(ctx, selectReadings+" WHERE created_at BETWEEN ? AND ? ORDER BY created_at, id", from.UnixMilli(), to.UnixMilli())
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query readings: %w", err)
	}
	defer rows.Close()
	var res []Reading
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (Reading, error) {
	var r Reading
	var created int64
	if err := row.Scan(&r.ID, &r.Session, &r.Lux, &r.Proximity, &r.Near, &created); err != nil {
		return Reading{}, err
	}
	r.CreatedAt = time.UnixMilli(created)
	return r, nil
}
