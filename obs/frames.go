package obs

import "encoding/json"

// Protocol op codes, obs-websocket 5.x.
const (
	OpHello           = 0
	OpIdentify        = 1
	OpIdentified      = 2
	OpReidentify      = 3
	OpEvent           = 5
	OpRequest         = 6
	OpRequestResponse = 7
)

const rpcVersion = 1

// Frame is the envelope every protocol message travels in.
type Frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func newFrame(op int, d any) (Frame, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Op: op, D: raw}, nil
}

type helloData struct {
	OBSWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

type identifiedData struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

type requestData struct {
	RequestType string          `json:"requestType"`
	RequestID   string          `json:"requestId"`
	RequestData json.RawMessage `json:"requestData,omitempty"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment"`
}

type requestResponseData struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData"`
}

type eventData struct {
	EventType   string          `json:"eventType"`
	EventIntent int             `json:"eventIntent"`
	EventData   json.RawMessage `json:"eventData"`
}

// Event types the client cares about. The protocol defines many more,
// unknown types pass through to any-event handlers untouched.
const (
	EventCurrentProgramSceneChanged  = "CurrentProgramSceneChanged"
	EventSceneItemEnableStateChanged = "SceneItemEnableStateChanged"
	EventSceneItemTransformChanged   = "SceneItemTransformChanged"
	EventInputMuteStateChanged       = "InputMuteStateChanged"
	EventStreamStateChanged          = "StreamStateChanged"
	EventRecordStateChanged          = "RecordStateChanged"
	EventVirtualcamStateChanged      = "VirtualcamStateChanged"
	EventReplayBufferSaved           = "ReplayBufferSaved"
	EventExitStarted                 = "ExitStarted"
)
