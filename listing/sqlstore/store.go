// Package sqlstore keeps listings in a sqlite database. The version check
// and the write of an update run in one transaction guarded by
// `WHERE version = ?`.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"github.com/bazaarnet/bazaar/build"
	"github.com/bazaarnet/bazaar/listing"
)

var log = logging.Logger("sqlstore")

const DefaultDbFilename = "listings.db"

var ddls = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY NOT NULL,
		seller_id TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		record BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS listings_status_stage ON listings (status, stage)`,
	`CREATE INDEX IF NOT EXISTS listings_seller ON listings (seller_id)`,
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

const (
	insertListing = `INSERT INTO listings (id, seller_id, status, stage, version, created_at, record) VALUES (?, ?, ?, ?, ?, ?, ?)`
	selectListing = `SELECT record FROM listings WHERE id = ?`
	updateListing = `UPDATE listings SET status = ?, stage = ?, version = ?, record = ? WHERE id = ? AND version = ?`
	deleteListing = `DELETE FROM listings WHERE id = ? AND version = ? AND status = ?`
)

type Store struct {
	db *sql.DB

	stmtInsert *sql.Stmt
	stmtSelect *sql.Stmt
}

var _ listing.Store = (*Store)(nil)

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, xerrors.Errorf("opening listing db: %w", err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)

	for _, p := range append(append([]string{}, pragmas...), ddls...) {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, xerrors.Errorf("initializing listing db (%q): %w", p, err)
		}
	}

	s := &Store{db: db}
	if s.stmtInsert, err = db.PrepareContext(ctx, insertListing); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("prepare insert: %w", err)
	}
	if s.stmtSelect, err = db.PrepareContext(ctx, selectListing); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("prepare select: %w", err)
	}

	log.Infow("opened listing db", "path", path)
	return s, nil
}

func decode(b []byte) (*listing.Listing, error) {
	var l listing.Listing
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, xerrors.Errorf("decoding listing: %w", err)
	}
	return &l, nil
}

func (s *Store) Create(ctx context.Context, l *listing.Listing) error {
	if err := listing.Check(l); err != nil {
		return err
	}

	stored := l.Clone()
	stored.Version = 1
	b, err := json.Marshal(stored)
	if err != nil {
		return xerrors.Errorf("encoding listing %s: %w", l.ID, err)
	}

	_, err = s.stmtInsert.ExecContext(ctx, stored.ID, stored.SellerID, string(stored.Status), string(stored.Stage), stored.Version, stored.CreatedAt.UnixNano(), b)
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || serr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return xerrors.Errorf("listing %s: %w", l.ID, listing.ErrAlreadyExists)
	}
	if err != nil {
		return xerrors.Errorf("inserting listing %s: %w", l.ID, err)
	}

	l.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*listing.Listing, error) {
	var b []byte
	err := s.stmtSelect.QueryRowContext(ctx, id).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.Errorf("listing %s: %w", id, listing.ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("reading listing %s: %w", id, err)
	}
	return decode(b)
}

func (s *Store) Update(ctx context.Context, l *listing.Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var b []byte
	err = tx.QueryRowContext(ctx, selectListing, l.ID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return xerrors.Errorf("listing %s: %w", l.ID, listing.ErrNotFound)
	}
	if err != nil {
		return xerrors.Errorf("reading listing %s: %w", l.ID, err)
	}
	prev, err := decode(b)
	if err != nil {
		return err
	}
	if prev.Version != l.Version {
		return xerrors.Errorf("listing %s at version %d, update read %d: %w", l.ID, prev.Version, l.Version, listing.ErrVersionConflict)
	}
	if err := listing.CheckUpdate(prev, l); err != nil {
		return err
	}

	next := l.Clone()
	next.Version = prev.Version + 1
	next.UpdatedAt = build.Clock.Now()
	nb, err := json.Marshal(next)
	if err != nil {
		return xerrors.Errorf("encoding listing %s: %w", l.ID, err)
	}

	res, err := tx.ExecContext(ctx, updateListing, string(next.Status), string(next.Stage), next.Version, nb, next.ID, prev.Version)
	if err != nil {
		return xerrors.Errorf("updating listing %s: %w", l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return xerrors.Errorf("listing %s: %w", l.ID, listing.ErrVersionConflict)
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("commit: %w", err)
	}

	l.Version = next.Version
	l.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *Store) Delete(ctx context.Context, id string, version uint64) error {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if prev.Version != version {
		return xerrors.Errorf("listing %s at version %d: %w", id, prev.Version, listing.ErrVersionConflict)
	}
	if prev.Status != listing.StatusDraft {
		return xerrors.Errorf("cannot delete listing in status %s: %w", prev.Status, listing.ErrInvalidUpdate)
	}

	res, err := s.db.ExecContext(ctx, deleteListing, id, version, string(listing.StatusDraft))
	if err != nil {
		return xerrors.Errorf("deleting listing %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return xerrors.Errorf("listing %s: %w", id, listing.ErrVersionConflict)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f listing.Filter) ([]*listing.Listing, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(f.Statuses) > 0 {
		where = append(where, "status IN (?"+strings.Repeat(", ?", len(f.Statuses)-1)+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.Stage != listing.StageNone {
		where = append(where, "stage = ?")
		args = append(args, string(f.Stage))
	}
	if f.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, f.SellerID)
	}

	q := "SELECT record FROM listings"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, xerrors.Errorf("listing query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*listing.Listing
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		l, err := decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	_ = s.stmtInsert.Close()
	_ = s.stmtSelect.Close()
	err := s.db.Close()
	s.db = nil
	return err
}
