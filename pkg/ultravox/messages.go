package ultravox

import "encoding/json"

// MessageType enumerates the fixed set of JSON control messages exchanged
// with the client. Anything the upstream agent sends outside this set is
// forwarded to the client unchanged as Passthrough.
type MessageType string

const (
	TypeConnected          MessageType = "connected"
	TypeTranscript         MessageType = "transcript"
	TypeResponse           MessageType = "response"
	TypePlaybackClearBuf   MessageType = "playback_clear_buffer"
	TypeError              MessageType = "error"
	TypePassthrough        MessageType = "passthrough"
)

// Envelope is the minimal shape used to sniff a message's type field before
// deciding how (or whether) to re-decode it.
type Envelope struct {
	Type string `json:"type"`
}

// ConnectedMessage is synthesized by the bridge itself, exactly once, when
// the upstream call transitions to Active.
type ConnectedMessage struct {
	Type string `json:"type"`
}

// NewConnectedMessage builds the one-time "connected" notification.
func NewConnectedMessage() []byte {
	b, _ := json.Marshal(ConnectedMessage{Type: string(TypeConnected)})
	return b
}

// ErrorMessage is sent to the client when a fatal server-side error occurs,
// either before or after the session closes.
type ErrorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewErrorMessage builds a fatal error notification for the client.
func NewErrorMessage(errText, details string) []byte {
	b, _ := json.Marshal(ErrorMessage{Type: string(TypeError), Error: errText, Details: details})
	return b
}

// Classify inspects a raw JSON message from upstream and reports its
// MessageType. Messages with no type field, or a type outside the fixed
// set, classify as TypePassthrough and are forwarded verbatim.
func Classify(raw []byte) MessageType {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return TypePassthrough
	}
	switch MessageType(env.Type) {
	case TypeConnected, TypeTranscript, TypeResponse, TypePlaybackClearBuf, TypeError:
		return MessageType(env.Type)
	default:
		return TypePassthrough
	}
}
