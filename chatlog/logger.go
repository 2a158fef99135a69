// Package chatlog persists the stream transcript, every admitted chat
// line plus the paid events, to a local SQLite database.
package chatlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/watari-ai/lobby/live"
)

// Entry is one transcript row. Amount and Currency are zero for plain
// chat lines.
type Entry struct {
	ID       string    `json:"id"`
	Platform string    `json:"platform"`
	Channel  string    `json:"channel"`
	Author   string    `json:"author"`
	Kind     string    `json:"kind"`
	Text     string    `json:"text"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	SentAt   time.Time `json:"sent_at"`
}

// FromInput converts a pipeline input into a transcript entry. The
// channel is configuration, inputs do not carry it.
func FromInput(in live.Input, channel string) Entry {
	kind := in.Meta["type"]
	if kind == "" {
		kind = "chat"
	}

	amount, _ := strconv.ParseFloat(in.Meta["amount"], 64)

	return Entry{
		ID:       uuid.NewString(),
		Platform: string(in.Source),
		Channel:  channel,
		Author:   in.Author,
		Kind:     kind,
		Text:     in.Text,
		Amount:   amount,
		Currency: in.Meta["currency"],
		SentAt:   in.At,
	}
}

const sqlMigration = `BEGIN;
CREATE TABLE IF NOT EXISTS chat_message (
	id TEXT PRIMARY KEY,
	platform TEXT NOT NULL,
	channel TEXT NOT NULL collate nocase,
	author TEXT NOT NULL collate nocase,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	amount REAL NOT NULL,
	currency TEXT NOT NULL,
	sent_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_message_sent_at_idx ON chat_message (sent_at);
CREATE INDEX IF NOT EXISTS chat_message_channel_author_idx ON chat_message (channel, author);
COMMIT;`

// sentAtLayout is fixed width so lexicographic comparison in SQL
// matches time order.
const sentAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	maxBatchWait  = time.Second * 5
	maxBatchItems = 20
)

// Logger batches transcript entries into SQLite. Writes go through db,
// reads through roDB, so status queries never queue behind the batch
// writer.
type Logger struct {
	logger zerolog.Logger
	db     DB
	roDB   DB
}

func NewLogger(logger zerolog.Logger, db DB, roDB DB) *Logger {
	return &Logger{
		logger: logger,
		db:     db,
		roDB:   roDB,
	}
}

// Open opens the transcript database at path, creating parent
// directories as needed. The handle is limited to one connection, the
// driver rejects concurrent writers.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed creating transcript dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	return db, nil
}

// Prepare applies the connection pragmas and the schema migration.
func (l *Logger) Prepare(ctx context.Context) error {
	queries := [...]string{
		"pragma journal_mode = WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
	}

	for _, query := range queries {
		if _, err := l.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed running prepare query: %w", err)
		}
	}

	if _, err := l.db.ExecContext(ctx, sqlMigration); err != nil {
		return fmt.Errorf("failed running migration: %w", err)
	}

	return nil
}

// Log consumes entries until the channel closes or ctx is canceled,
// flushing batches every few seconds or when enough rows piled up.
// Whatever is still buffered at shutdown gets one final flush.
func (l *Logger) Log(ctx context.Context, entries <-chan Entry) error {
	defer l.logger.Info().Msg("transcript logger done")

	var batch []Entry

	timer := time.NewTimer(maxBatchWait)
	defer timer.Stop()

	flush := func(flushCtx context.Context, reason string) error {
		if len(batch) == 0 {
			return nil
		}

		cloned := slices.Clone(batch)
		if err := l.createEntries(flushCtx, cloned); err != nil {
			return fmt.Errorf("failed to batch insert %d transcript rows after %s: %w", len(cloned), reason, err)
		}

		batch = batch[:0]

		return nil
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), maxBatchWait)
			defer cancel()

			if err := flush(flushCtx, "shutdown"); err != nil {
				return err
			}

			return nil
		case entry, ok := <-entries:
			if !ok {
				return flush(ctx, "channel close")
			}

			batch = append(batch, entry)

			if len(batch) < maxBatchItems {
				continue
			}

			if err := flush(ctx, "batch size reached"); err != nil {
				return err
			}

			timer.Stop()
			timer.Reset(maxBatchWait)
		case <-timer.C:
			if err := flush(ctx, "max wait time"); err != nil {
				return err
			}

			timer.Reset(maxBatchWait)
		}
	}
}

// MessagesSince returns the transcript rows sent at or after since,
// oldest first.
func (l *Logger) MessagesSince(ctx context.Context, since time.Time) ([]Entry, error) {
	query := `SELECT id, platform, channel, author, kind, text, amount, currency, sent_at FROM chat_message WHERE sent_at >= ? ORDER BY sent_at ASC`

	rows, err := l.roDB.QueryContext(ctx, query, since.UTC().Format(sentAtLayout))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []Entry{}, nil
		}

		return nil, err
	}

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var entry Entry
		var rawSentAt string

		if err := rows.Scan(
			&entry.ID,
			&entry.Platform,
			&entry.Channel,
			&entry.Author,
			&entry.Kind,
			&entry.Text,
			&entry.Amount,
			&entry.Currency,
			&rawSentAt,
		); err != nil {
			return entries, err
		}

		var err error
		entry.SentAt, err = time.Parse(sentAtLayout, rawSentAt)
		if err != nil {
			return entries, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return entries, err
	}

	return entries, nil
}

func (l *Logger) createEntries(ctx context.Context, batch []Entry) error {
	if len(batch) == 0 {
		return fmt.Errorf("expected at least 1 element, got %d", len(batch))
	}

	query := `INSERT INTO chat_message (id, platform, channel, author, kind, text, amount, currency, sent_at) VALUES %s`

	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*9) // 9 args per row
	for _, entry := range batch {
		valueStrings = append(valueStrings, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		valueArgs = append(valueArgs,
			entry.ID,
			entry.Platform,
			entry.Channel,
			entry.Author,
			entry.Kind,
			entry.Text,
			entry.Amount,
			entry.Currency,
			entry.SentAt.UTC().Format(sentAtLayout),
		)
	}

	query = fmt.Sprintf(query, strings.Join(valueStrings, ","))

	if _, err := l.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("failed inserting transcript rows: %w", err)
	}

	return nil
}
