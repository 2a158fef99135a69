package twitch

import (
	"fmt"
	"time"
)

// Kind classifies a chat line after parsing.
type Kind string

const (
	KindChat    Kind = "chat"
	KindBits    Kind = "bits"
	KindSub     Kind = "sub"
	KindResub   Kind = "resub"
	KindSubGift Kind = "subgift"
	KindRaid    Kind = "raid"
)

// Badge is a single chat badge in name/version form.
type Badge struct {
	Name    string
	Version int
}

// Emote is an emote occurrence inside the message text, identified by
// the emote ID and the rune range it covers.
type Emote struct {
	ID    string
	Start int
	End   int
}

// Message is a single classified chat line.
type Message struct {
	ID        string
	Channel   string
	Author    string
	AuthorID  string
	Text      string
	Kind      Kind
	Badges    []Badge
	Emotes    []Emote
	UserColor string

	Bits            int
	SubMonths       int
	SubTier         string
	RaidViewerCount int

	IsSubscriber   bool
	IsModerator    bool
	IsVIP          bool
	IsBroadcaster  bool
	IsFirstMessage bool

	SentAt  time.Time
	RawTags map[string]string
	Raw     string
}

// IRC returns the raw line the message was parsed from.
func (m *Message) IRC() string {
	return m.Raw
}

// HasBadge reports whether a badge with the given name is present.
func (m *Message) HasBadge(name string) bool {
	for _, b := range m.Badges {
		if b.Name == name {
			return true
		}
	}

	return false
}

// IRCer is anything that can be serialized to a single IRC line.
type IRCer interface {
	IRC() string
}

// PingMessage is a keep-alive ping, in either direction.
type PingMessage struct{}

func (p PingMessage) IRC() string {
	return "PING :tmi.twitch.tv"
}

// PongMessage answers a ping. Payload echoes the ping argument when present.
type PongMessage struct {
	Payload string
}

func (p PongMessage) IRC() string {
	if p.Payload != "" {
		return "PONG " + p.Payload
	}

	return "PONG :tmi.twitch.tv"
}

// WelcomeMessage is the post-login numeric sent by the server.
type WelcomeMessage struct{}

func (w WelcomeMessage) IRC() string {
	return ":tmi.twitch.tv 001"
}

// NoticeMessage is a server NOTICE, used for login failure detection.
type NoticeMessage struct {
	Text string
}

func (n NoticeMessage) IRC() string {
	return fmt.Sprintf("NOTICE * :%s", n.Text)
}

type PassCommand struct {
	Token string
}

func (p PassCommand) IRC() string {
	return fmt.Sprintf("PASS %s", p.Token)
}

type NickCommand struct {
	Nick string
}

func (n NickCommand) IRC() string {
	return fmt.Sprintf("NICK %s", n.Nick)
}

type CapReqCommand struct {
	Capability string
}

func (c CapReqCommand) IRC() string {
	return fmt.Sprintf("CAP REQ :%s", c.Capability)
}

type JoinCommand struct {
	Channel string
}

func (j JoinCommand) IRC() string {
	return fmt.Sprintf("JOIN #%s", j.Channel)
}

// PrivMsgCommand sends a chat message to a channel.
type PrivMsgCommand struct {
	Channel string
	Text    string
}

func (p PrivMsgCommand) IRC() string {
	return fmt.Sprintf("PRIVMSG #%s :%s", p.Channel, p.Text)
}
