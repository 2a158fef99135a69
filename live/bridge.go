package live

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/watari-ai/lobby/twitch"
	"github.com/watari-ai/lobby/youtube"
)

// AttachTwitch feeds the channel's chat into the pipeline. Bits, subs
// and raids jump the normal backlog.
func (o *Orchestrator) AttachTwitch(chat *twitch.Chat) {
	chat.OnChat(func(msg *twitch.Message) { o.AddInput(twitchChatInput(msg)) })
	chat.OnBits(func(msg *twitch.Message) { o.AddPriority(twitchBitsInput(msg)) })
	chat.OnSub(func(msg *twitch.Message) { o.AddPriority(twitchSubInput(msg)) })
	chat.OnRaid(func(msg *twitch.Message) { o.AddPriority(twitchRaidInput(msg)) })
}

func twitchInput(msg *twitch.Message) Input {
	meta := map[string]string{}
	if names := badgeNames(msg.Badges); names != "" {
		meta["badges"] = names
	}

	return Input{
		Text:     msg.Text,
		Source:   SourceTwitch,
		Author:   msg.Author,
		AuthorID: msg.AuthorID,
		At:       msg.SentAt,
		Meta:     meta,
	}
}

func twitchChatInput(msg *twitch.Message) Input {
	in := twitchInput(msg)
	in.Meta["color"] = msg.UserColor
	in.Meta["subscriber"] = strconv.FormatBool(msg.IsSubscriber)
	in.Meta["moderator"] = strconv.FormatBool(msg.IsModerator)
	in.Meta["vip"] = strconv.FormatBool(msg.IsVIP)

	return in
}

func twitchBitsInput(msg *twitch.Message) Input {
	in := twitchInput(msg)
	in.Meta["type"] = "bits"
	in.Meta["bits"] = strconv.Itoa(msg.Bits)

	return in
}

func twitchSubInput(msg *twitch.Message) Input {
	in := twitchInput(msg)
	if in.Text == "" {
		in.Text = "サブスクありがとう！"
	}

	in.Meta["type"] = string(msg.Kind)
	in.Meta["sub_months"] = strconv.Itoa(msg.SubMonths)
	in.Meta["sub_tier"] = msg.SubTier

	return in
}

func twitchRaidInput(msg *twitch.Message) Input {
	in := twitchInput(msg)
	in.Text = fmt.Sprintf("レイドありがとう！%d人も来てくれたっす！", msg.RaidViewerCount)
	in.Meta["type"] = "raid"
	in.Meta["viewer_count"] = strconv.Itoa(msg.RaidViewerCount)

	return in
}

func badgeNames(badges []twitch.Badge) string {
	names := make([]string, 0, len(badges))
	for _, b := range badges {
		names = append(names, b.Name)
	}

	return strings.Join(names, ",")
}

// AttachYouTube feeds the stream's live chat into the pipeline. Super
// chats, stickers and memberships jump the normal backlog.
func (o *Orchestrator) AttachYouTube(chat *youtube.Chat) {
	chat.OnMessage(func(msg youtube.Message) { o.AddInput(youtubeInput(msg)) })
	chat.OnPaid(func(msg youtube.Message) { o.AddPriority(youtubePaidInput(msg)) })
}

func youtubeInput(msg youtube.Message) Input {
	meta := map[string]string{}
	if msg.AuthorAvatarURL != "" {
		meta["profile_image"] = msg.AuthorAvatarURL
	}

	return Input{
		Text:     msg.Text,
		Source:   SourceYouTube,
		Author:   msg.Author,
		AuthorID: msg.AuthorChannelID,
		At:       msg.PublishedAt,
		Meta:     meta,
	}
}

func youtubePaidInput(msg youtube.Message) Input {
	in := youtubeInput(msg)
	in.Meta["type"] = msg.Kind.String()

	if msg.Amount > 0 {
		in.Meta["amount"] = strconv.FormatFloat(msg.Amount, 'f', -1, 64)
		in.Meta["currency"] = msg.Currency
	}

	if msg.MemberMonths > 0 {
		in.Meta["membership_months"] = strconv.Itoa(msg.MemberMonths)
	}

	return in
}
