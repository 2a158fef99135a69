package twitch

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrZeroLengthMessage is returned when parsing if the input is
	// zero-length.
	ErrZeroLengthMessage = errors.New("irc: cannot parse zero-length message")

	// ErrMissingDataAfterPrefix is returned when parsing if there is
	// no message data after the prefix.
	ErrMissingDataAfterPrefix = errors.New("irc: no message data after prefix")

	// ErrMissingDataAfterTags is returned when parsing if there is no
	// message data after the tags.
	ErrMissingDataAfterTags = errors.New("irc: no message data after tags")

	// ErrMissingCommand is returned when parsing if there is no
	// command in the parsed message.
	ErrMissingCommand = errors.New("irc: missing message command")

	// ErrMissingParams is returned when a command is missing arguments
	// it requires, like a PRIVMSG without a trailing text.
	ErrMissingParams = errors.New("irc: message missing required params")

	ErrUnhandledCommand = errors.New("irc: message command not handled by parser")
)

type tagValue string

type tags map[string]tagValue

func (t tags) stringMap() map[string]string {
	m := make(map[string]string, len(t))
	for k, v := range t {
		m[k] = string(v)
	}

	return m
}

type rawLine struct {
	// Each message can have IRCv3 tags
	tags

	// Each message can have a prefix
	*prefix

	// Command is which command is being called.
	Command string

	// Params are all the arguments for the command.
	Params []string

	Message string
}

type prefix struct {
	// Name will contain the nick of who sent the message, the
	// server who sent the message, or a blank string
	Name string

	// User will either contain the user who sent the message or a blank string
	User string

	// Host will either contain the host of who sent the message or a blank string
	Host string
}

var tagDecodeSlashMap = map[rune]rune{
	':':  ';',
	's':  ' ',
	'\\': '\\',
	'r':  '\r',
	'n':  '\n',
}

var tagEncodeMap = map[rune]string{
	';':  `\:`,
	' ':  `\s`,
	'\\': `\\`,
	'\r': `\r`,
	'\n': `\n`,
}

func parseLine(message string) (IRCer, error) {
	// Trim the line and make sure we have data
	message = strings.TrimRight(message, "\r\n")
	if len(message) == 0 {
		return nil, ErrZeroLengthMessage
	}

	c := &rawLine{
		tags:    tags{},
		prefix:  &prefix{},
		Message: message,
	}

	if message[0] == '@' {
		loc := strings.Index(message, " ")
		if loc == -1 {
			return nil, ErrMissingDataAfterTags
		}

		c.tags = parseTags(message[1:loc])
		message = message[loc+1:]
	}

	if len(message) > 0 && message[0] == ':' {
		loc := strings.Index(message, " ")
		if loc == -1 {
			return nil, ErrMissingDataAfterPrefix
		}

		// Parse the identity, if there was one
		c.prefix = parsePrefix(message[1:loc])
		message = message[loc+1:]
	}

	// Split out the trailing then the rest of the args. Because
	// we expect there to be at least one result as an arg (the
	// command) we don't need to special case the trailing arg and
	// can just attempt a split on " :"
	split := strings.SplitN(message, " :", 2)
	c.Params = strings.FieldsFunc(split[0], func(r rune) bool {
		return r == ' '
	})

	// If there are no args, we need to bail because we need at
	// least the command.
	if len(c.Params) == 0 {
		return nil, ErrMissingCommand
	}

	// If we had a trailing arg, append it to the other args
	if len(split) == 2 {
		c.Params = append(c.Params, split[1])
	}

	// Because of how it's parsed, the Command will show up as the
	// first arg.
	c.Command = strings.ToUpper(c.Params[0])
	c.Params = c.Params[1:]

	switch c.Command {
	case "PRIVMSG":
		return privateMessageFromRaw(c)
	case "USERNOTICE":
		return userNoticeFromRaw(c)
	case "PING":
		return PingMessage{}, nil
	case "PONG":
		return PongMessage{}, nil
	case "001":
		return WelcomeMessage{}, nil
	case "NOTICE":
		if len(c.Params) == 0 {
			return nil, ErrMissingParams
		}

		return NoticeMessage{Text: c.Params[len(c.Params)-1]}, nil
	}

	return nil, ErrUnhandledCommand
}

func privateMessageFromRaw(c *rawLine) (*Message, error) {
	if len(c.Params) < 2 {
		return nil, ErrMissingParams
	}

	m := &Message{
		Channel: strings.TrimPrefix(c.Params[0], "#"),
		Text:    c.Params[1],
		Kind:    KindChat,
	}
	applyUserTags(m, c)

	if bits, err := strconv.Atoi(string(c.tags["bits"])); err == nil && bits > 0 {
		m.Kind = KindBits
		m.Bits = bits
	}

	return m, nil
}

func userNoticeFromRaw(c *rawLine) (*Message, error) {
	if len(c.Params) == 0 {
		return nil, ErrMissingParams
	}

	m := &Message{
		Channel: strings.TrimPrefix(c.Params[0], "#"),
	}
	applyUserTags(m, c)

	// The user supplied text is the trailing param when present, system
	// notices without one fall back to the server rendered summary.
	if len(c.Params) > 1 {
		m.Text = c.Params[1]
	} else {
		m.Text = string(c.tags["system-msg"])
	}

	switch string(c.tags["msg-id"]) {
	case "sub":
		m.Kind = KindSub
	case "resub":
		m.Kind = KindResub
	case "subgift", "anonsubgift":
		m.Kind = KindSubGift
	case "raid":
		m.Kind = KindRaid
	default:
		return nil, ErrUnhandledCommand
	}

	switch m.Kind {
	case KindSub, KindResub:
		months, err := strconv.Atoi(emptyStringZero(string(c.tags["msg-param-cumulative-months"])))
		if err != nil {
			return nil, err
		}

		m.SubMonths = months
		m.SubTier = string(c.tags["msg-param-sub-plan"])
	case KindSubGift:
		months, err := strconv.Atoi(emptyStringZero(string(c.tags["msg-param-months"])))
		if err != nil {
			return nil, err
		}

		m.SubMonths = months
		m.SubTier = string(c.tags["msg-param-sub-plan"])
	case KindRaid:
		viewerCount, err := strconv.Atoi(emptyStringZero(string(c.tags["msg-param-viewerCount"])))
		if err != nil {
			return nil, err
		}

		m.RaidViewerCount = viewerCount

		if name := string(c.tags["msg-param-displayName"]); name != "" {
			m.Author = name
		}
	}

	return m, nil
}

// applyUserTags fills the fields shared between PRIVMSG and USERNOTICE
// lines from the tag set and prefix.
func applyUserTags(m *Message, c *rawLine) {
	m.ID = string(c.tags["id"])
	m.AuthorID = string(c.tags["user-id"])
	m.UserColor = string(c.tags["color"])
	m.SentAt = parseTimestamp(string(c.tags["tmi-sent-ts"]))
	m.RawTags = c.tags.stringMap()
	m.Raw = c.Message

	m.Author = string(c.tags["display-name"])
	if m.Author == "" {
		m.Author = c.prefix.Name
	}

	if badgeStr := c.tags["badges"]; badgeStr != "" {
		m.Badges = parseBadges(string(badgeStr))
	}

	if emoteStr := c.tags["emotes"]; emoteStr != "" {
		m.Emotes = parseEmotes(string(emoteStr))
	}

	m.IsSubscriber = c.tags["subscriber"] == "1" || m.HasBadge("subscriber") || m.HasBadge("founder")
	m.IsModerator = c.tags["mod"] == "1" || m.HasBadge("moderator")
	m.IsVIP = c.tags["vip"] == "1" || m.HasBadge("vip")
	m.IsBroadcaster = m.HasBadge("broadcaster")
	m.IsFirstMessage = c.tags["first-msg"] == "1"
}

func emptyStringZero(s string) string {
	if s == "" {
		return "0"
	}

	return s
}

func parseEmotes(emoteStr string) []Emote {
	// emote format 25:0-4,6-10/1902:12-16
	groups := strings.Split(emoteStr, "/")
	emotes := make([]Emote, 0, len(groups))

	for _, group := range groups {
		parts := strings.SplitN(group, ":", 2)
		if len(parts) != 2 {
			continue
		}

		for _, position := range strings.Split(parts[1], ",") {
			bounds := strings.Split(position, "-")
			if len(bounds) != 2 {
				continue
			}

			start, err := strconv.Atoi(bounds[0])
			if err != nil {
				continue
			}

			end, err := strconv.Atoi(bounds[1])
			if err != nil {
				continue
			}

			emotes = append(emotes, Emote{
				ID:    parts[0],
				Start: start,
				End:   end,
			})
		}
	}

	return emotes
}

func parseBadges(badgeStr string) []Badge {
	if badgeStr == "" {
		return nil
	}

	badgeSplit := strings.Split(badgeStr, ",")
	badges := make([]Badge, 0, len(badgeSplit))

	for _, badge := range badgeSplit {
		parts := strings.SplitN(badge, "/", 2)
		if len(parts) == 1 {
			badges = append(badges, Badge{Name: parts[0]})
			continue
		}

		version, err := strconv.Atoi(parts[1])
		if err != nil {
			badges = append(badges, Badge{Name: parts[0]})
			continue
		}

		badges = append(badges, Badge{Name: parts[0], Version: version})
	}

	return badges
}

func parseTimestamp(timeStr string) time.Time {
	i, err := strconv.ParseInt(timeStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, i*1e6)
}

func parsePrefix(line string) *prefix {
	// Start by creating a Prefix with nothing but the host
	id := &prefix{
		Name: line,
	}

	uh := strings.SplitN(id.Name, "@", 2)
	if len(uh) == 2 {
		id.Name, id.Host = uh[0], uh[1]
	}

	nu := strings.SplitN(id.Name, "!", 2)
	if len(nu) == 2 {
		id.Name, id.User = nu[0], nu[1]
	}

	return id
}

func parseTagValue(v string) tagValue {
	ret := &bytes.Buffer{}

	input := bytes.NewBufferString(v)

	for {
		c, _, err := input.ReadRune()
		if err != nil {
			break
		}

		if c == '\\' {
			c2, _, err := input.ReadRune()
			// If we got a backslash then the end of the tag value, we should
			// just ignore the backslash.
			if err != nil {
				break
			}

			if replacement, ok := tagDecodeSlashMap[c2]; ok {
				ret.WriteRune(replacement)
			} else {
				ret.WriteRune(c2)
			}
		} else {
			ret.WriteRune(c)
		}
	}

	return tagValue(ret.String())
}

func escapeTagValue(v string) string {
	var sb strings.Builder

	for _, r := range v {
		if escaped, ok := tagEncodeMap[r]; ok {
			sb.WriteString(escaped)
			continue
		}

		sb.WriteRune(r)
	}

	return sb.String()
}

func parseTags(line string) tags {
	ret := tags{}

	tags := strings.Split(line, ";")
	for _, tag := range tags {
		parts := strings.SplitN(tag, "=", 2)
		if len(parts) < 2 {
			ret[parts[0]] = ""
			continue
		}

		ret[parts[0]] = parseTagValue(parts[1])
	}

	return ret
}
