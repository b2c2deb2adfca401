package bridge

import "fmt"

// Kind classifies the disposition of a bridge-level error, per the error
// handling design: each kind maps to one reaction (fatal exit, reject
// upgrade, notify-then-close, drop-and-continue, or propagate-close).
type Kind string

const (
	// KindConfigMissing is a fatal startup error (missing API_KEY).
	KindConfigMissing Kind = "ConfigMissing"
	// KindBadRequest is a malformed upgrade request; no session is created.
	KindBadRequest Kind = "BadRequest"
	// KindUpstreamSetup covers call-creation HTTP failures.
	KindUpstreamSetup Kind = "UpstreamSetup"
	// KindUpstreamConnect covers upstream WebSocket handshake failures.
	KindUpstreamConnect Kind = "UpstreamConnect"
	// KindTransform covers a malformed audio frame; the frame is dropped
	// and the session continues.
	KindTransform Kind = "Transform"
	// KindPeerClosed means one endpoint closed normally.
	KindPeerClosed Kind = "PeerClosed"
	// KindPeerError means one endpoint's transport errored.
	KindPeerError Kind = "PeerError"
)

// Error wraps an underlying cause with its disposition kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a bridge Error of the given kind.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
