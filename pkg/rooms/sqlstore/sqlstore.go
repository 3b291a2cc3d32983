// Package sqlstore keeps the roster in a relational database. Both sqlite3
// and postgres are supported; the statements differ only in placeholder
// style, column types and row locking.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/roomboard/pkg/rooms"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const columns = `room_id, display_order, category, is_active, is_checkout, notes, updated_at_us`

type Backend struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and makes sure the rooms table exists.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Backend, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		// sqlite has a single writer; more connections only produce SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	b := New(db, dialect)
	if err := b.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// New wraps an already open database without touching its schema.
func New(db *sql.DB, dialect Dialect) *Backend {
	return &Backend{db: db, dialect: dialect}
}

func (b *Backend) Migrate(ctx context.Context) error {
	var stmts []string
	if b.dialect == DialectSQLite {
		stmts = []string{
			`PRAGMA journal_mode = WAL`,
			`PRAGMA synchronous = FULL`,
			`PRAGMA busy_timeout = 5000`,
			`CREATE TABLE IF NOT EXISTS rooms (
    room_id text not null primary key,
    display_order integer not null,
    category text not null,
    is_active integer not null default 0,
    is_checkout integer not null default 0,
    notes text not null default '',
    updated_at_us integer not null default 0
)`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS rooms (
    room_id text not null primary key,
    display_order integer not null,
    category text not null,
    is_active boolean not null default false,
    is_checkout boolean not null default false,
    notes text not null default '',
    updated_at_us bigint not null default 0
)`,
		}
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate rooms table: %w", err)
		}
	}
	return nil
}

func (b *Backend) Seed(ctx context.Context, roster []rooms.Room) error {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to start tx: %w", err)
	}
	defer rollback(tx)

	query := b.rebind(`INSERT INTO rooms (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (room_id) DO NOTHING`)
	for _, r := range roster {
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.DisplayOrder, r.Category, r.IsActive, r.IsCheckout, r.Notes, toMicros(r.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to seed room %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context) ([]rooms.Room, error) {
	return b.list(ctx, b.db)
}

func (b *Backend) Get(ctx context.Context, id string) (rooms.Room, error) {
	row := b.db.QueryRowContext(ctx, b.rebind(`SELECT `+columns+` FROM rooms WHERE room_id = ?`), id)
	return scanRoom(row)
}

func (b *Backend) Update(ctx context.Context, id string, fn rooms.Mutator) (rooms.Room, bool, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return rooms.Room{}, false, fmt.Errorf("failed to start tx: %w", err)
	}
	defer rollback(tx)

	query := `SELECT ` + columns + ` FROM rooms WHERE room_id = ?`
	if b.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	current, err := scanRoom(tx.QueryRowContext(ctx, b.rebind(query), id))
	if err != nil {
		return rooms.Room{}, false, err
	}
	updated, changed := fn(current)
	if !changed {
		return current, false, nil
	}
	updated.ID = id

	if res, err := tx.ExecContext(ctx,
		b.rebind(`UPDATE rooms SET is_active = ?, is_checkout = ?, notes = ?, updated_at_us = ? WHERE room_id = ?`),
		updated.IsActive, updated.IsCheckout, updated.Notes, toMicros(updated.UpdatedAt), id,
	); err != nil {
		return rooms.Room{}, false, fmt.Errorf("failed to update room %s: %w", id, err)
	} else if n, err := res.RowsAffected(); err != nil {
		return rooms.Room{}, false, fmt.Errorf("failed to count rows affected by update: %w", err)
	} else if n == 0 {
		return rooms.Room{}, false, rooms.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return rooms.Room{}, false, fmt.Errorf("failed to commit update: %w", err)
	}
	return updated, true, nil
}

// Reset reads the current stamps inside the reset transaction. On postgres
// the rows are locked first, so an update committed by another instance is
// either seen here or waits for the reset.
func (b *Backend) Reset(ctx context.Context, stamp rooms.Stamper) ([]rooms.Room, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start tx: %w", err)
	}
	defer rollback(tx)

	latest, err := b.latestStamp(ctx, tx)
	if err != nil {
		return nil, err
	}
	at := stamp(latest)

	if _, err := tx.ExecContext(ctx,
		b.rebind(`UPDATE rooms SET is_active = ?, is_checkout = ?, notes = ?, updated_at_us = ?`),
		false, false, "", toMicros(at),
	); err != nil {
		return nil, fmt.Errorf("failed to reset rooms: %w", err)
	}
	roster, err := b.list(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reset: %w", err)
	}
	return roster, nil
}

func (b *Backend) latestStamp(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	query := `SELECT updated_at_us FROM rooms`
	if b.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to lock rooms for reset: %w", err)
	}
	defer rows.Close()
	var latest int64
	for rows.Next() {
		var us int64
		if err := rows.Scan(&us); err != nil {
			return time.Time{}, fmt.Errorf("failed to scan stamp: %w", err)
		}
		latest = max(latest, us)
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to read stamps: %w", err)
	}
	return fromMicros(latest), nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (b *Backend) list(ctx context.Context, q querier) ([]rooms.Room, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+columns+` FROM rooms ORDER BY display_order, room_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()
	out := make([]rooms.Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rooms: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (rooms.Room, error) {
	var r rooms.Room
	var micros int64
	if err := s.Scan(&r.ID, &r.DisplayOrder, &r.Category, &r.IsActive, &r.IsCheckout, &r.Notes, &micros); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rooms.Room{}, rooms.ErrNotFound
		}
		return rooms.Room{}, fmt.Errorf("failed to scan room: %w", err)
	}
	r.UpdatedAt = fromMicros(micros)
	return r, nil
}

// rebind turns ? placeholders into $n for postgres.
func (b *Backend) rebind(query string) string {
	if b.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("failed to rollback", "err", err)
	}
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
