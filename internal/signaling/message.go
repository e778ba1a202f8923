package signaling

import "encoding/json"

const jsonRpcVersion = "2.0"

// envelope is the wire frame for both directions. Requests carry an ID and
// expect exactly one correlated ack; acks echo the ID back with either a
// result or an error; server pushes carry a method and no ID.
type envelope struct {
	Version string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Request methods understood by the voice namespace.
const (
	JoinMethod             = "join"
	CreateSendTransport    = "create-send-transport"
	ConnectSendTransport   = "connect-send-transport"
	ProduceMethod          = "produce"
	MuteMethod             = "mute"
	ToggleVideoMethod      = "toggle-video"
)

// Server-pushed events.
const (
	UserJoinedEvent       = "user_joined"
	UserLeftEvent         = "user_left"
	UserMutedEvent        = "user_muted"
	UserVideoToggledEvent = "user_video_toggled"
	ProducerAddedEvent    = "producer_added"
	ErrorEvent            = "error"
)
