package main

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flowvox/voicebridge/pkg/bridge"
	"github.com/flowvox/voicebridge/pkg/ultravox"
)

const (
	defaultContext     = "You are a helpful voice assistant."
	closeWriteDeadline = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleVoiceSocket upgrades an incoming client connection, parses session
// parameters, creates a session, and runs it to completion. One goroutine
// per client connection, matching net/http's own per-request goroutine.
//
// Session parameters are validated after the upgrade rather than before:
// the spec's BadRequest disposition is "close client with 4000", a WebSocket
// close code, which only exists on an already-established connection.
func (a *app) handleVoiceSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	callerContext, err := parseContext(r.URL.Query())
	if err != nil {
		rejectBadRequest(conn, err)
		return
	}

	id := uuid.NewString()
	upstreamClient := ultravox.NewClient(a.ultravoxConfig)
	sess := bridge.NewSession(id, callerContext, conn, upstreamClient, a.registry, a.metrics)

	a.registry.Add(sess)
	slog.Info("session accepted", "session", id)

	if err := sess.Start(r.Context()); err != nil {
		slog.Warn("session ended with error", "session", id, "error", err)
	} else {
		slog.Info("session ended", "session", id)
	}
}

// rejectBadRequest closes an already-upgraded connection with WebSocket
// close code 4000 when the initial session parameters are malformed. No
// session is created and the registry never learns about the connection.
func rejectBadRequest(conn *websocket.Conn, cause error) {
	err := bridge.Wrap(bridge.KindBadRequest, cause)
	slog.Warn("rejecting malformed session parameters", "error", err)

	msg := websocket.FormatCloseMessage(4000, "bad request")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteDeadline))
	_ = conn.Close()
}

// parseContext extracts the required `context` query parameter and ignores
// the `sampleRate` parameter (currently fixed at 8000). A missing context
// falls back to a non-empty placeholder rather than rejecting the upgrade;
// a context value that fails URL decoding is a BadRequest.
func parseContext(q url.Values) (string, error) {
	raw := q.Get("context")
	if raw == "" {
		return defaultContext, nil
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", err
	}
	if decoded == "" {
		return defaultContext, nil
	}
	return decoded, nil
}
