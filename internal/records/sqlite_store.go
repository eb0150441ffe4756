package records

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS branches (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	address TEXT NOT NULL DEFAULT '',
	lat     REAL,
	lon     REAL
);
CREATE TABLE IF NOT EXISTS reviews (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	branch_id INTEGER NOT NULL,
	date      TEXT NOT NULL DEFAULT '',
	rating    INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment   TEXT NOT NULL DEFAULT '',
	tone      TEXT NOT NULL DEFAULT 'unspecified',
	expertise INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reviews_branch ON reviews(branch_id);
`

// SQLiteStore keeps branch and review records in a SQLite database. Reviews
// iterate in insertion order.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create records dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Import replaces every stored record with branches and reviews in a single
// transaction.
func (s *SQLiteStore) Import(ctx context.Context, branches []Branch, reviews []Review) error {
	for _, r := range reviews {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reviews"); err != nil {
		return fmt.Errorf("clear reviews: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM branches"); err != nil {
		return fmt.Errorf("clear branches: %w", err)
	}

	for _, b := range branches {
		var lat, lon sql.NullFloat64
		if b.Geo != nil {
			lat = sql.NullFloat64{Float64: b.Geo.Lat, Valid: true}
			lon = sql.NullFloat64{Float64: b.Geo.Lon, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO branches(id, name, address, lat, lon) VALUES(?, ?, ?, ?, ?)",
			b.ID, b.Name, b.Address, lat, lon,
		); err != nil {
			return fmt.Errorf("insert branch %d: %w", b.ID, err)
		}
	}
	for _, r := range reviews {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO reviews(branch_id, date, rating, comment, tone, expertise) VALUES(?, ?, ?, ?, ?, ?)",
			r.BranchID, r.Date, r.Rating, r.Comment, r.Tone.String(), r.Expertise,
		); err != nil {
			return fmt.Errorf("insert review for branch %d: %w", r.BranchID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Branches(ctx context.Context) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, address, lat, lon FROM branches ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query branches: %w", err)
	}
	defer rows.Close()

	out := []Branch{}
	for rows.Next() {
		var (
			b        Branch
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &lat, &lon); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		if lat.Valid && lon.Valid {
			b.Geo = &GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Reviews(ctx context.Context) ([]Review, error) {
	return s.queryReviews(ctx,
		"SELECT branch_id, date, rating, comment, tone, expertise FROM reviews ORDER BY seq")
}

func (s *SQLiteStore) ReviewsForBranch(ctx context.Context, branchID int) ([]Review, error) {
	return s.queryReviews(ctx,
		"SELECT branch_id, date, rating, comment, tone, expertise FROM reviews WHERE branch_id = ? ORDER BY seq",
		branchID)
}

func (s *SQLiteStore) queryReviews(ctx context.Context, query string, args ...any) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		var (
			r    Review
			tone string
		)
		if err := rows.Scan(&r.BranchID, &r.Date, &r.Rating, &r.Comment, &tone, &r.Expertise); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.Tone = ParseTone(tone)
		out = append(out, r)
	}
	return out, rows.Err()
}
