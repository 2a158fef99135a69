package youtube

import (
	"encoding/json"
	"fmt"
)

// APIError is an error response from the Data API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("youtube: api error %d: %s", e.Status, e.Message)
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type videoListResponse struct {
	Items []struct {
		ID                   string `json:"id"`
		LiveStreamingDetails struct {
			ActiveLiveChatID   string `json:"activeLiveChatId"`
			ActualStartTime    string `json:"actualStartTime"`
			ConcurrentViewers  string `json:"concurrentViewers"`
			ScheduledStartTime string `json:"scheduledStartTime"`
		} `json:"liveStreamingDetails"`
	} `json:"items"`
}

type liveChatMessagesResponse struct {
	NextPageToken         string            `json:"nextPageToken"`
	PollingIntervalMillis int64             `json:"pollingIntervalMillis"`
	OfflineAt             string            `json:"offlineAt"`
	Items                 []chatMessageItem `json:"items"`
}

type chatMessageItem struct {
	ID      string `json:"id"`
	Snippet struct {
		Type               string `json:"type"`
		LiveChatID         string `json:"liveChatId"`
		PublishedAt        string `json:"publishedAt"`
		UserComment        string `json:"userComment"`
		TextMessageDetails *struct {
			MessageText string `json:"messageText"`
		} `json:"textMessageDetails"`
		SuperChatDetails *struct {
			// the API serializes the micros amount as a string
			AmountMicros  json.Number `json:"amountMicros"`
			Currency      string      `json:"currency"`
			AmountDisplay string      `json:"amountDisplayString"`
			UserComment   string      `json:"userComment"`
			Tier          int         `json:"tier"`
		} `json:"superChatDetails"`
		SuperStickerDetails *struct {
			AmountMicros  json.Number `json:"amountMicros"`
			Currency      string      `json:"currency"`
			AmountDisplay string      `json:"amountDisplayString"`
			Tier          int         `json:"tier"`
		} `json:"superStickerDetails"`
		MemberMilestoneChatDetails *struct {
			MemberMonth     int    `json:"memberMonth"`
			MemberLevelName string `json:"memberLevelName"`
			UserComment     string `json:"userComment"`
		} `json:"memberMilestoneChatDetails"`
	} `json:"snippet"`
	AuthorDetails struct {
		ChannelID       string `json:"channelId"`
		DisplayName     string `json:"displayName"`
		ProfileImageURL string `json:"profileImageUrl"`
		IsChatOwner     bool   `json:"isChatOwner"`
		IsChatModerator bool   `json:"isChatModerator"`
		IsChatSponsor   bool   `json:"isChatSponsor"`
		IsVerified      bool   `json:"isVerified"`
	} `json:"authorDetails"`
}
