// Package pg persists committed event batches to a SQL journal. The same
// schema runs on PostgreSQL (pgx) and SQLite (modernc).
package pg

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/fhayvy/Nexcredis/internal/events"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the journal schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const timeLayout = time.RFC3339Nano

// Journal is an events.Sink backed by database/sql.
type Journal struct {
	db *sql.DB
}

var _ events.Sink = (*Journal)(nil)

// Open connects with driver ("pgx" or "sqlite").
func Open(driver, dsn string) (*Journal, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return &Journal{db: db}, nil
}

// New wraps an open database.
func New(db *sql.DB) *Journal { return &Journal{db: db} }

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) DB() *sql.DB { return j.db }

// Publish writes b and its events in one database transaction.
func (j *Journal) Publish(ctx context.Context, b events.Batch) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into journal_batches(block, operation, committed_at, prev_hash, hash)
		values ($1, $2, $3, $4, $5)
	`, int64(b.Block), b.Operation, b.CommittedAt.UTC().Format(timeLayout), b.PrevHash, b.Hash); err != nil {
		return fmt.Errorf("journal: insert batch %d: %w", b.Block, err)
	}
	for _, ev := range b.Events {
		accounts, err := json.Marshal(nonNil(ev.Accounts))
		if err != nil {
			return err
		}
		attrs, err := json.Marshal(ev.Attrs)
		if err != nil {
			return err
		}
		if ev.Attrs == nil {
			attrs = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, `
			insert into journal_events(id, sequence, block, component, kind, actor, accounts, amount, ref, attrs, at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, ev.ID, int64(ev.Sequence), int64(ev.Block), ev.Component, ev.Kind, ev.Actor,
			string(accounts), strconv.FormatUint(ev.Amount, 10), ev.Ref, string(attrs),
			ev.At.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("journal: insert event %d: %w", ev.Sequence, err)
		}
	}
	return tx.Commit()
}

// Head returns the last journaled block and hash; zero and GenesisHash when empty.
func (j *Journal) Head(ctx context.Context) (uint64, string, error) {
	var (
		block int64
		hash  string
	)
	err := j.db.QueryRowContext(ctx, `
		select block, hash from journal_batches order by block desc limit 1
	`).Scan(&block, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, events.GenesisHash, nil
	}
	if err != nil {
		return 0, "", err
	}
	return uint64(block), hash, nil
}

// Batches returns up to limit batches after afterBlock, with their events.
func (j *Journal) Batches(ctx context.Context, afterBlock uint64, limit int) ([]events.Batch, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := j.db.QueryContext(ctx, `
		select block, operation, committed_at, prev_hash, hash
		from journal_batches
		where block > $1
		order by block asc
		limit $2
	`, int64(afterBlock), limit)
	if err != nil {
		return nil, err
	}
	var (
		out   []events.Batch
		index = map[uint64]int{}
	)
	for rows.Next() {
		var (
			b         events.Batch
			block     int64
			committed string
		)
		if err := rows.Scan(&block, &b.Operation, &committed, &b.PrevHash, &b.Hash); err != nil {
			rows.Close()
			return nil, err
		}
		b.Block = uint64(block)
		if b.CommittedAt, err = time.Parse(timeLayout, committed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("journal: batch %d time: %w", block, err)
		}
		index[b.Block] = len(out)
		out = append(out, b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	evRows, err := j.db.QueryContext(ctx, `
		select id, sequence, block, component, kind, actor, accounts, amount, ref, attrs, at
		from journal_events
		where block >= $1 and block <= $2
		order by sequence asc
	`, int64(out[0].Block), int64(out[len(out)-1].Block))
	if err != nil {
		return nil, err
	}
	defer evRows.Close()
	for evRows.Next() {
		ev, err := scanEvent(evRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[ev.Block]; ok {
			out[i].Events = append(out[i].Events, ev)
		}
	}
	return out, evRows.Err()
}

// Verify reloads the whole journal and checks its hash chain.
func (j *Journal) Verify(ctx context.Context) error {
	var (
		all   []events.Batch
		after uint64
	)
	for {
		page, err := j.Batches(ctx, after, 1000)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		after = page[len(page)-1].Block
	}
	return events.Verify(all)
}

func scanEvent(rows *sql.Rows) (events.Event, error) {
	var (
		ev         events.Event
		seq, block int64
		accounts   string
		amount     string
		attrs      string
		at         string
	)
	if err := rows.Scan(&ev.ID, &seq, &block, &ev.Component, &ev.Kind, &ev.Actor, &accounts, &amount, &ev.Ref, &attrs, &at); err != nil {
		return ev, err
	}
	ev.Sequence, ev.Block = uint64(seq), uint64(block)
	if err := json.Unmarshal([]byte(accounts), &ev.Accounts); err != nil {
		return ev, fmt.Errorf("journal: event %d accounts: %w", seq, err)
	}
	if len(ev.Accounts) == 0 {
		ev.Accounts = nil
	}
	if err := json.Unmarshal([]byte(attrs), &ev.Attrs); err != nil {
		return ev, fmt.Errorf("journal: event %d attrs: %w", seq, err)
	}
	if len(ev.Attrs) == 0 {
		ev.Attrs = nil
	}
	var err error
	if ev.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return ev, fmt.Errorf("journal: event %d amount: %w", seq, err)
	}
	if ev.At, err = time.Parse(timeLayout, at); err != nil {
		return ev, fmt.Errorf("journal: event %d time: %w", seq, err)
	}
	return ev, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
