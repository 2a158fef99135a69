package youtube

import (
	"strconv"
	"time"
)

// Kind classifies a live chat message.
type Kind int

const (
	KindText Kind = iota
	KindSuperChat
	KindSuperSticker
	KindMembership
	KindMilestone
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSuperChat:
		return "superchat"
	case KindSuperSticker:
		return "supersticker"
	case KindMembership:
		return "membership"
	case KindMilestone:
		return "milestone"
	}

	return "unknown"
}

const membershipFallbackText = "[メンバーシップ登録ありがとうございます！]"

// Message is a single live chat message.
type Message struct {
	ID              string
	Text            string
	Author          string
	AuthorChannelID string
	AuthorAvatarURL string
	PublishedAt     time.Time
	Kind            Kind

	// super chat and super sticker only
	Amount   float64
	Currency string

	// milestone only
	MemberMonths int

	IsOwner     bool
	IsModerator bool
	IsSponsor   bool
}

// Paid reports whether the message represents money, a super chat,
// super sticker or membership event.
func (m Message) Paid() bool {
	return m.Kind != KindText
}

func messageFromItem(item chatMessageItem) Message {
	snippet := item.Snippet
	author := item.AuthorDetails

	msg := Message{
		ID:              item.ID,
		Author:          author.DisplayName,
		AuthorChannelID: author.ChannelID,
		AuthorAvatarURL: author.ProfileImageURL,
		IsOwner:         author.IsChatOwner,
		IsModerator:     author.IsChatModerator,
		IsSponsor:       author.IsChatSponsor,
	}

	if msg.Author == "" {
		msg.Author = "Unknown"
	}

	if published, err := time.Parse(time.RFC3339, snippet.PublishedAt); err == nil {
		msg.PublishedAt = published
	} else {
		msg.PublishedAt = time.Now()
	}

	switch {
	case snippet.SuperChatDetails != nil:
		details := snippet.SuperChatDetails
		msg.Kind = KindSuperChat
		msg.Text = details.UserComment
		msg.Amount = microsToAmount(details.AmountMicros.String())
		msg.Currency = details.Currency
	case snippet.SuperStickerDetails != nil:
		details := snippet.SuperStickerDetails
		msg.Kind = KindSuperSticker
		msg.Text = "[Super Sticker]"
		msg.Amount = microsToAmount(details.AmountMicros.String())
		msg.Currency = details.Currency
	case snippet.Type == "newSponsorEvent":
		msg.Kind = KindMembership
		msg.Text = snippet.UserComment
		if msg.Text == "" {
			msg.Text = membershipFallbackText
		}
	case snippet.Type == "memberMilestoneChatEvent":
		msg.Kind = KindMilestone
		msg.Text = snippet.UserComment
		if details := snippet.MemberMilestoneChatDetails; details != nil {
			msg.MemberMonths = details.MemberMonth
			if msg.Text == "" {
				msg.Text = details.UserComment
			}
		}
		if msg.Text == "" {
			msg.Text = membershipFallbackText
		}
	default:
		msg.Kind = KindText
		if snippet.TextMessageDetails != nil {
			msg.Text = snippet.TextMessageDetails.MessageText
		}
	}

	if msg.Currency == "" && (msg.Kind == KindSuperChat || msg.Kind == KindSuperSticker) {
		msg.Currency = "JPY"
	}

	return msg
}

func microsToAmount(micros string) float64 {
	value, err := strconv.ParseFloat(micros, 64)
	if err != nil {
		return 0
	}

	return value / 1_000_000
}
