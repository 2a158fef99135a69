package twitch

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHost    = "irc.chat.twitch.tv"
	DefaultPort    = 6667
	DefaultTLSPort = 6697

	// AnonymousNick is accepted by the server without credentials and
	// allows read-only access to any channel.
	AnonymousNick = "justinfan12345"

	ircDialTimeout      = 5 * time.Second
	ircReconnectDelay   = 5 * time.Second
	ircSendBufferSize   = 64
	ircMaxLineSize      = 64 * 1024
	defaultPingInterval = 60 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

var (
	// ErrAuthFailed is returned by Run when the server rejects the
	// provided credentials. It is not retried.
	ErrAuthFailed = errors.New("twitch: login authentication failed")

	// ErrPongTimeout is returned internally when the server stops
	// answering keep-alive pings, forcing a reconnect.
	ErrPongTimeout = errors.New("twitch: pong not received in time")

	ErrSendBufferFull = errors.New("twitch: send buffer full")
)

// Config holds the connection settings for a single channel chat client.
// The zero value connects anonymously once a Channel is set.
type Config struct {
	// Nick is the login name. Leave empty for anonymous read-only access.
	Nick string

	// Token is the OAuth token, with or without the oauth: prefix.
	Token string

	// Channel to join, without the leading #.
	Channel string

	Host string
	Port int
	TLS  bool

	// PingInterval is how often a keep-alive ping is sent. The connection
	// counts as dead when no pong was seen for twice this interval.
	PingInterval time.Duration

	// PongTimeout bounds how long a single line write may block.
	PongTimeout time.Duration

	// ReconnectDelay is the pause between connection attempts.
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Nick == "" {
		c.Nick = AnonymousNick
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.Port == 0 {
		if c.TLS {
			c.Port = DefaultTLSPort
		} else {
			c.Port = DefaultPort
		}
	}

	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}

	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}

	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = ircReconnectDelay
	}

	c.Channel = strings.ToLower(strings.TrimPrefix(c.Channel, "#"))

	return c
}

// Chat is a line-oriented chat client for a single channel with automatic
// reconnection. Messages are delivered through the registered callbacks
// from the read goroutine, in arrival order.
type Chat struct {
	cfg    Config
	logger zerolog.Logger

	sendCh chan IRCer

	mu        sync.Mutex
	onMessage func(*Message)
	onChat    func(*Message)
	onBits    func(*Message)
	onSub     func(*Message)
	onRaid    func(*Message)

	lastPong  atomic.Int64
	connected atomic.Bool

	// Addr allows overriding the dial address for testing.
	Addr string
}

// NewChat creates a chat client for cfg.Channel.
func NewChat(cfg Config, logger zerolog.Logger) *Chat {
	cfg = cfg.withDefaults()

	return &Chat{
		cfg:    cfg,
		logger: logger.With().Str("conn", "irc").Str("channel", cfg.Channel).Logger(),
		sendCh: make(chan IRCer, ircSendBufferSize),
	}
}

// OnMessage registers a callback invoked for every classified message.
func (c *Chat) OnMessage(fn func(*Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnChat registers a callback invoked for plain chat messages only.
func (c *Chat) OnChat(fn func(*Message)) {
	c.mu.Lock()
	c.onChat = fn
	c.mu.Unlock()
}

// OnBits registers a callback invoked for messages carrying bits.
func (c *Chat) OnBits(fn func(*Message)) {
	c.mu.Lock()
	c.onBits = fn
	c.mu.Unlock()
}

// OnSub registers a callback invoked for sub, resub and gifted subs.
func (c *Chat) OnSub(fn func(*Message)) {
	c.mu.Lock()
	c.onSub = fn
	c.mu.Unlock()
}

// OnRaid registers a callback invoked for incoming raids.
func (c *Chat) OnRaid(fn func(*Message)) {
	c.mu.Lock()
	c.onRaid = fn
	c.mu.Unlock()
}

// IsConnected reports whether the client currently holds a logged-in
// connection.
func (c *Chat) IsConnected() bool {
	return c.connected.Load()
}

// Send queues a message to be sent over the connection.
func (c *Chat) Send(msg IRCer) error {
	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Say sends a chat message to the joined channel. Requires credentials,
// anonymous connections are read-only.
func (c *Chat) Say(text string) error {
	return c.Send(PrivMsgCommand{Channel: c.cfg.Channel, Text: text})
}

// Run connects and serves the connection until ctx is cancelled,
// reconnecting after a fixed delay on every failure. Rejected credentials
// are terminal and reported as ErrAuthFailed.
func (c *Chat) Run(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			c.logger.Info().Msg("connection stopped (context cancelled)")
			return ctx.Err()
		}

		if errors.Is(err, ErrAuthFailed) {
			c.logger.Error().Msg("authentication rejected, giving up")
			return err
		}

		if err != nil {
			c.logger.Warn().Err(err).Msg("connection error, will reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
			c.logger.Info().Msg("reconnecting...")
		}
	}
}

func (c *Chat) connectOnce(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	c.lastPong.Store(time.Now().UnixNano())

	if err := c.login(conn); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	c.connected.Store(true)
	defer c.connected.Store(false)

	// Run reader/writer/pinger concurrently
	g, gctx := errgroup.WithContext(ctx)

	// Unblock the blocking conn reads once the group winds down.
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	// Internal channel for PONG replies (reader → writer)
	pongCh := make(chan struct{}, 1)

	g.Go(func() error {
		return c.readLoop(conn, pongCh)
	})

	g.Go(func() error {
		return c.writeLoop(gctx, conn, pongCh)
	})

	g.Go(func() error {
		return c.pingLoop(gctx)
	})

	return g.Wait()
}

func (c *Chat) dial(ctx context.Context) (net.Conn, error) {
	addr := c.Addr
	if addr == "" {
		addr = net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	}

	dialCtx, cancel := context.WithTimeout(ctx, ircDialTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: ircDialTimeout}

	if c.cfg.TLS {
		tlsDialer := tls.Dialer{NetDialer: &dialer}
		return tlsDialer.DialContext(dialCtx, "tcp", addr)
	}

	return dialer.DialContext(dialCtx, "tcp", addr)
}

func (c *Chat) login(conn net.Conn) error {
	token := c.cfg.Token
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	var cmds []IRCer
	if token != "" {
		cmds = append(cmds, PassCommand{Token: token})
	}

	cmds = append(cmds,
		NickCommand{Nick: c.cfg.Nick},
		CapReqCommand{Capability: "twitch.tv/tags"},
		CapReqCommand{Capability: "twitch.tv/commands"},
		JoinCommand{Channel: c.cfg.Channel},
	)

	for _, cmd := range cmds {
		if err := c.writeLine(conn, cmd); err != nil {
			return err
		}
	}

	return nil
}

func (c *Chat) writeLine(conn net.Conn, msg IRCer) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout)); err != nil {
		return err
	}

	_, err := conn.Write([]byte(msg.IRC() + "\r\n"))
	return err
}

func (c *Chat) readLoop(conn net.Conn, pongCh chan<- struct{}) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), ircMaxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		parsed, err := parseLine(line)
		if err != nil {
			if errors.Is(err, ErrUnhandledCommand) || errors.Is(err, ErrMissingParams) {
				// Ignore JOIN, PART confirmations and MOTD noise
				if !strings.Contains(line, "JOIN") &&
					!strings.Contains(line, "PART") &&
					!strings.HasPrefix(line, ":tmi.twitch.tv") {
					c.logger.Debug().Str("line", line).Msg("unhandled IRC command")
				}
				continue
			}
			return fmt.Errorf("parse error: %w", err)
		}

		switch v := parsed.(type) {
		case PingMessage:
			// Signal writer to answer with PONG
			select {
			case pongCh <- struct{}{}:
			default:
			}
		case PongMessage:
			c.lastPong.Store(time.Now().UnixNano())
		case WelcomeMessage:
			c.logger.Info().Str("nick", c.cfg.Nick).Msg("logged in")
		case NoticeMessage:
			if strings.Contains(v.Text, "Login authentication failed") {
				return ErrAuthFailed
			}
			c.logger.Debug().Str("notice", v.Text).Msg("server notice")
		case *Message:
			c.dispatch(v)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return io.EOF
}

func (c *Chat) writeLoop(ctx context.Context, conn net.Conn, pongCh <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pongCh:
			if err := c.writeLine(conn, PongMessage{}); err != nil {
				return err
			}
		case msg := <-c.sendCh:
			if err := c.writeLine(conn, msg); err != nil {
				return err
			}
		}
	}
}

// pingLoop sends keep-alive pings and enforces the pong watchdog: a
// connection that has not answered for two full intervals is torn down so
// Run can establish a fresh one.
func (c *Chat) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			silence := time.Since(time.Unix(0, c.lastPong.Load()))
			if silence > 2*c.cfg.PingInterval {
				return fmt.Errorf("no pong for %s: %w", silence.Truncate(time.Millisecond), ErrPongTimeout)
			}

			if err := c.Send(PingMessage{}); err != nil {
				c.logger.Warn().Err(err).Msg("could not queue keep-alive ping")
			}
		}
	}
}

func (c *Chat) callbacks() (onMessage, onChat, onBits, onSub, onRaid func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onMessage, c.onChat, c.onBits, c.onSub, c.onRaid
}

func (c *Chat) dispatch(msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Any("panic", r).Str("msg_id", msg.ID).Msg("message handler panicked")
		}
	}()

	onMessage, onChat, onBits, onSub, onRaid := c.callbacks()

	if onMessage != nil {
		onMessage(msg)
	}

	switch msg.Kind {
	case KindBits:
		if onBits != nil {
			onBits(msg)
		}
	case KindSub, KindResub, KindSubGift:
		if onSub != nil {
			onSub(msg)
		}
	case KindRaid:
		if onRaid != nil {
			onRaid(msg)
		}
	default:
		if onChat != nil {
			onChat(msg)
		}
	}
}
