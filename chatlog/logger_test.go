package chatlog

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/watari-ai/lobby/live"
)

var testSentAt = time.Date(2026, 8, 22, 12, 30, 0, 0, time.UTC)

func testEntry(id, text string) Entry {
	return Entry{
		ID:       id,
		Platform: "twitch",
		Channel:  "lobby_ch",
		Author:   "viewer",
		Kind:     "chat",
		Text:     text,
		SentAt:   testSentAt,
	}
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestLogger_Prepare(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("pragma journal_mode = WAL").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("pragma synchronous = normal").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("pragma temp_store = memory").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_message").WillReturnResult(sqlmock.NewResult(0, 0))

	logger := NewLogger(zerolog.Nop(), db, db)
	require.NoError(t, logger.Prepare(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_LogFlushesOnChannelClose(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO chat_message").
		WithArgs(anyArgs(2 * 9)...).
		WillReturnResult(sqlmock.NewResult(2, 2))

	logger := NewLogger(zerolog.Nop(), db, db)

	in := make(chan Entry, 2)
	in <- testEntry("first", "おはロビィ！")
	in <- testEntry("second", "かわいい")
	close(in)

	require.NoError(t, logger.Log(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_LogFlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO chat_message").
		WithArgs(anyArgs(maxBatchItems * 9)...).
		WillReturnResult(sqlmock.NewResult(maxBatchItems, maxBatchItems))

	logger := NewLogger(zerolog.Nop(), db, db)

	in := make(chan Entry, maxBatchItems)
	for i := 0; i < maxBatchItems; i++ {
		in <- testEntry(string(rune('a'+i)), "line")
	}
	close(in)

	require.NoError(t, logger.Log(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_LogFlushesOnMaxWait(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO chat_message").
		WithArgs(anyArgs(9)...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	logger := NewLogger(zerolog.Nop(), db, db)

	in := make(chan Entry, 1)
	in <- testEntry("lone", "まだ一件だけ")

	done := make(chan error, 1)
	go func() {
		done <- logger.Log(context.Background(), in)
	}()

	// a single entry stays far below the batch size, so only the wait
	// timer can trigger this insert
	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*maxBatchWait, 100*time.Millisecond)

	close(in)
	require.NoError(t, <-done)
}

func TestLogger_LogFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO chat_message").
		WithArgs(anyArgs(9)...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	logger := NewLogger(zerolog.Nop(), db, db)

	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan Entry, 1)
	in <- testEntry("pending", "まだ書かれてない")

	done := make(chan error, 1)
	go func() {
		done <- logger.Log(ctx, in)
	}()

	// let the loop buffer the entry before shutting down
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("logger did not stop after cancel")
	}

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_CreateEntriesDynamicRows(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	entries := []Entry{
		{
			ID:       "first",
			Platform: "twitch",
			Channel:  "lobby_ch",
			Author:   "viewer",
			Kind:     "chat",
			Text:     "おは",
			SentAt:   testSentAt,
		},
		{
			ID:       "second",
			Platform: "youtube",
			Channel:  "lobby_ch",
			Author:   "fan",
			Kind:     "superchat",
			Text:     "がんばれ",
			Amount:   500,
			Currency: "JPY",
			SentAt:   testSentAt.Add(time.Second),
		},
	}

	mock.ExpectExec("INSERT INTO chat_message (id, platform, channel, author, kind, text, amount, currency, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?),(?, ?, ?, ?, ?, ?, ?, ?, ?)").
		WithArgs(
			"first", "twitch", "lobby_ch", "viewer", "chat", "おは", 0.0, "", "2026-08-22T12:30:00.000000000Z",
			"second", "youtube", "lobby_ch", "fan", "superchat", "がんばれ", 500.0, "JPY", "2026-08-22T12:30:01.000000000Z",
		).
		WillReturnResult(sqlmock.NewResult(2, 2))

	logger := NewLogger(zerolog.Nop(), db, db)
	require.NoError(t, logger.createEntries(context.Background(), entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_MessagesSince(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "platform", "channel", "author", "kind", "text", "amount", "currency", "sent_at"}).
		AddRow("first", "twitch", "lobby_ch", "viewer", "chat", "おは", 0.0, "", "2026-08-22T12:30:00.000000000Z").
		AddRow("second", "youtube", "lobby_ch", "fan", "superchat", "がんばれ", 500.0, "JPY", "2026-08-22T12:30:01.000000000Z")

	mock.ExpectQuery("SELECT id, platform, channel, author, kind, text, amount, currency, sent_at FROM chat_message").
		WithArgs("2026-08-22T12:00:00.000000000Z").
		WillReturnRows(rows)

	logger := NewLogger(zerolog.Nop(), db, db)

	since := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	entries, err := logger.MessagesSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "first", entries[0].ID)
	require.True(t, entries[0].SentAt.Equal(testSentAt))
	require.Equal(t, "superchat", entries[1].Kind)
	require.InDelta(t, 500.0, entries[1].Amount, 0.0001)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFromInput(t *testing.T) {
	t.Parallel()

	in := live.Input{
		Text:   "すごい！",
		Source: live.SourceYouTube,
		Author: "fan",
		At:     testSentAt,
		Meta: map[string]string{
			"type":     "superchat",
			"amount":   "500",
			"currency": "JPY",
		},
	}

	entry := FromInput(in, "lobby_ch")

	require.NotEmpty(t, entry.ID)
	require.Equal(t, "youtube", entry.Platform)
	require.Equal(t, "lobby_ch", entry.Channel)
	require.Equal(t, "fan", entry.Author)
	require.Equal(t, "superchat", entry.Kind)
	require.Equal(t, "すごい！", entry.Text)
	require.InDelta(t, 500.0, entry.Amount, 0.0001)
	require.Equal(t, "JPY", entry.Currency)
	require.Equal(t, testSentAt, entry.SentAt)
}

func TestFromInput_PlainChatDefaults(t *testing.T) {
	t.Parallel()

	in := live.NewInput("こんにちは", live.SourceTwitch)
	entry := FromInput(in, "lobby_ch")

	require.Equal(t, "chat", entry.Kind)
	require.Zero(t, entry.Amount)
	require.Empty(t, entry.Currency)
	require.Equal(t, "Anonymous", entry.Author)
}
