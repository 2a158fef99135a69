package twitch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newChatServer starts a minimal IRC server for tests. Every accepted
// connection is handed to handler on its own goroutine.
func newChatServer(t *testing.T, handler func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go handler(conn)
		}
	}()

	return ln.Addr().String()
}

func Test_Chat_LoginAndDispatch(t *testing.T) {
	t.Parallel()

	gotLogin := make(chan []string, 1)
	addr := newChatServer(t, func(conn net.Conn) {
		defer conn.Close()
		scanner := bufio.NewScanner(conn)

		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
			if len(lines) == 4 {
				break
			}
		}

		select {
		case gotLogin <- lines:
		default:
		}

		fmt.Fprintf(conn, ":tmi.twitch.tv 001 justinfan12345 :Welcome, GLHF!\r\n")
		fmt.Fprintf(conn, "@badges=;display-name=Kana;id=m-1;user-id=222 :kana!kana@kana.tmi.twitch.tv PRIVMSG #lobby :hello there\r\n")

		// Hold the connection open until the client goes away.
		for scanner.Scan() {
		}
	})

	chat := NewChat(Config{Channel: "Lobby", PingInterval: time.Second}, zerolog.Nop())
	chat.Addr = addr

	messages := make(chan *Message, 1)
	chat.OnChat(func(m *Message) { messages <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chat.Run(ctx) }()

	select {
	case lines := <-gotLogin:
		require.Equal(t, []string{
			"NICK justinfan12345",
			"CAP REQ :twitch.tv/tags",
			"CAP REQ :twitch.tv/commands",
			"JOIN #lobby",
		}, lines)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for login lines")
	}

	select {
	case msg := <-messages:
		require.Equal(t, "Kana", msg.Author)
		require.Equal(t, "hello there", msg.Text)
		require.Equal(t, KindChat, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for chat message")
	}

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run to stop")
	}
}

func Test_Chat_LoginWithToken(t *testing.T) {
	t.Parallel()

	gotLogin := make(chan []string, 1)
	addr := newChatServer(t, func(conn net.Conn) {
		defer conn.Close()
		scanner := bufio.NewScanner(conn)

		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
			if len(lines) == 5 {
				break
			}
		}

		select {
		case gotLogin <- lines:
		default:
		}

		for scanner.Scan() {
		}
	})

	chat := NewChat(Config{
		Nick:         "lobbybot",
		Token:        "abc123",
		Channel:      "lobby",
		PingInterval: time.Second,
	}, zerolog.Nop())
	chat.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chat.Run(ctx) }()

	select {
	case lines := <-gotLogin:
		require.Equal(t, []string{
			"PASS oauth:abc123",
			"NICK lobbybot",
			"CAP REQ :twitch.tv/tags",
			"CAP REQ :twitch.tv/commands",
			"JOIN #lobby",
		}, lines)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for login lines")
	}

	cancel()
	<-done
}

func Test_Chat_AuthFailedIsTerminal(t *testing.T) {
	t.Parallel()

	addr := newChatServer(t, func(conn net.Conn) {
		defer conn.Close()
		fmt.Fprintf(conn, ":tmi.twitch.tv NOTICE * :Login authentication failed\r\n")

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
		}
	})

	chat := NewChat(Config{
		Nick:         "lobbybot",
		Token:        "oauth:expired",
		Channel:      "lobby",
		PingInterval: time.Second,
	}, zerolog.Nop())
	chat.Addr = addr

	done := make(chan error, 1)
	go func() { done <- chat.Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrAuthFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for auth failure")
	}
}

func Test_Chat_PongWatchdogReconnects(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32
	reconnected := make(chan struct{}, 1)
	addr := newChatServer(t, func(conn net.Conn) {
		defer conn.Close()

		if conns.Add(1) >= 2 {
			select {
			case reconnected <- struct{}{}:
			default:
			}
		}

		// Swallow everything, never answer pings.
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
		}
	})

	chat := NewChat(Config{
		Channel:        "lobby",
		PingInterval:   20 * time.Millisecond,
		ReconnectDelay: 5 * time.Millisecond,
	}, zerolog.Nop())
	chat.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chat.Run(ctx) }()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for watchdog driven reconnect")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run to stop")
	}
}

func Test_Chat_AnswersServerPing(t *testing.T) {
	t.Parallel()

	pongs := make(chan string, 1)
	addr := newChatServer(t, func(conn net.Conn) {
		defer conn.Close()
		scanner := bufio.NewScanner(conn)

		for i := 0; i < 4 && scanner.Scan(); i++ {
		}

		fmt.Fprintf(conn, "PING :tmi.twitch.tv\r\n")

		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), "PONG") {
				select {
				case pongs <- scanner.Text():
				default:
				}
				return
			}
		}
	})

	chat := NewChat(Config{Channel: "lobby", PingInterval: time.Second}, zerolog.Nop())
	chat.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chat.Run(ctx) }()

	select {
	case pong := <-pongs:
		require.Equal(t, "PONG :tmi.twitch.tv", pong)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pong reply")
	}

	cancel()
	<-done
}
