// Package sqlstore provides an orbit.Store backed by SQLite, so that recorded
// entries survive process restarts.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astro-stack/orbit"
)

// Store is an orbit.Store over a SQLite database. Appends beyond the limit
// evict the oldest entries inline.
type Store struct {
	db *sql.DB

	mtx   sync.Mutex // serializes writes
	limit int
	count int
}

var (
	_ orbit.Store   = (*Store)(nil)
	_ orbit.Resizer = (*Store)(nil)
)

const (
	defaultBusyTimeout = "5000"
	listPageSize       = 256
	deleteBatchSize    = 500
)

// Open the SQLite database at path, creating it if necessary, and apply any
// pending migrations. The store retains at most limit entries; the limit is
// normalized like orbit.Config.StorageLimit.
func Open(ctx context.Context, path string, limit int) (*Store, error) {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", "NORMAL")

	db, err := sql.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes access, and keeps in-memory databases
	// consistent across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{db: db}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&s.count); err != nil {
		db.Close()
		return nil, fmt.Errorf("count entries: %w", err)
	}

	if err := s.Resize(ctx, limit); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Append implements orbit.Store.
func (s *Store) Append(ctx context.Context, e *orbit.Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", orbit.ErrInvalidRequest)
	}

	var (
		duration   sql.NullFloat64
		familyHash sql.NullString
	)
	if d, ok := e.Duration(); ok {
		duration = sql.NullFloat64{Float64: d, Valid: true}
	}
	if fh, ok := e.FamilyHash(); ok {
		familyHash = sql.NullString{String: fh, Valid: true}
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, type, payload, duration_ms, family_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID(), string(e.Type()), string(e.RawPayload()), duration, familyHash, e.CreatedAt().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	s.count++

	return s.evictLocked(ctx)
}

// evictLocked deletes the oldest entries beyond the limit.
func (s *Store) evictLocked(ctx context.Context) error {
	excess := s.count - s.limit
	if excess <= 0 {
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE id IN (SELECT id FROM entries ORDER BY created_at ASC, id ASC LIMIT ?)`,
		excess,
	)
	if err != nil {
		return fmt.Errorf("evict entries: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("evict entries: %w", err)
	}
	s.count -= int(n)

	return nil
}

// Get implements orbit.Store.
func (s *Store) Get(ctx context.Context, id string) (*orbit.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, payload, duration_ms, family_hash, created_at FROM entries WHERE id = ?`,
		id,
	)
	e, err := scanEntry(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("entry %s: %w", id, orbit.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	default:
		return e, nil
	}
}

// List implements orbit.Store. Entries are read in pages, and fn is called
// with no database resources held, so fn may call other methods on the store.
func (s *Store) List(ctx context.Context, f orbit.Filter, fn func(*orbit.Entry) error) error {
	var (
		where, args = filterClause(f)
		cursor      *orbit.Entry
	)
	for {
		conds, condArgs := append([]string(nil), where...), append([]any(nil), args...)
		if cursor != nil {
			ts := cursor.CreatedAt().UnixNano()
			conds = append(conds, `(created_at < ? OR (created_at = ? AND id < ?))`)
			condArgs = append(condArgs, ts, ts, cursor.ID())
		}

		query := `SELECT id, type, payload, duration_ms, family_hash, created_at FROM entries`
		if len(conds) > 0 {
			query += ` WHERE ` + strings.Join(conds, ` AND `)
		}
		query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, listPageSize)

		page, err := s.query(ctx, query, condArgs...)
		if err != nil {
			return fmt.Errorf("list entries: %w", err)
		}

		for _, e := range page {
			if err := fn(e); err != nil {
				if errors.Is(err, orbit.ErrStop) {
					return nil
				}
				return err
			}
		}

		if len(page) < listPageSize {
			return nil
		}
		cursor = page[len(page)-1]
	}
}

func filterClause(f orbit.Filter) ([]string, []any) {
	var (
		conds []string
		args  []any
	)

	if len(f.Types) > 0 {
		marks := make([]string, len(f.Types))
		for i, t := range f.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, `type IN (`+strings.Join(marks, ", ")+`)`)
	}

	if f.FamilyHash != "" {
		conds = append(conds, `family_hash = ?`)
		args = append(args, f.FamilyHash)
	}

	if !f.Since.IsZero() {
		conds = append(conds, `created_at >= ?`)
		args = append(args, f.Since.UnixNano())
	}

	if !f.Until.IsZero() {
		conds = append(conds, `created_at <= ?`)
		args = append(args, f.Until.UnixNano())
	}

	return conds, args
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*orbit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*orbit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Prune implements orbit.Store.
func (s *Store) Prune(ctx context.Context, cutoff time.Time, keepImportant bool) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	candidates, err := s.query(ctx,
		`SELECT id, type, payload, duration_ms, family_hash, created_at FROM entries WHERE created_at < ?`,
		cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("select prune candidates: %w", err)
	}

	ids := make([]any, 0, len(candidates))
	for _, e := range candidates {
		if keepImportant && orbit.IsImportant(e) {
			continue
		}
		ids = append(ids, e.ID())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	var deleted int
	for len(ids) > 0 {
		n := min(len(ids), deleteBatchSize)
		batch := ids[:n]
		ids = ids[n:]

		marks := strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ")
		res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id IN (`+marks+`)`, batch...)
		if err != nil {
			return 0, fmt.Errorf("delete entries: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete entries: %w", err)
		}
		deleted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	s.count -= deleted

	return deleted, nil
}

// Len implements orbit.Store.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Limit returns the maximum number of entries retained by the store.
func (s *Store) Limit() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.limit
}

// Resize implements orbit.Resizer.
func (s *Store) Resize(ctx context.Context, limit int) error {
	cfg := orbit.Config{StorageLimit: limit}
	cfg.Normalize()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.limit = cfg.StorageLimit
	return s.evictLocked(ctx)
}

// Close implements orbit.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

//
//
//

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*orbit.Entry, error) {
	var (
		id, typ, payload string
		duration         sql.NullFloat64
		familyHash       sql.NullString
		createdAt        int64
	)
	if err := row.Scan(&id, &typ, &payload, &duration, &familyHash, &createdAt); err != nil {
		return nil, err
	}

	p := orbit.EntryParams{
		ID:         id,
		Type:       orbit.Type(typ),
		Payload:    json.RawMessage(payload),
		FamilyHash: familyHash.String,
		CreatedAt:  time.Unix(0, createdAt).UTC(),
	}
	if duration.Valid {
		p.DurationMS = &duration.Float64
	}

	e, err := orbit.NewEntry(p)
	if err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return e, nil
}
