package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/flowvox/voicebridge/pkg/bridge"
	"github.com/flowvox/voicebridge/pkg/metrics"
	"github.com/flowvox/voicebridge/pkg/ultravox"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	m, err := metrics.NewBridge()
	require.NoError(t, err)
	return &app{
		registry:       bridge.NewRegistry(),
		metrics:        m,
		ultravoxConfig: ultravox.Config{APIKey: "key"},
	}
}

// TestHandleVoiceSocketRejectsMalformedContextWithClose4000 covers the
// BadRequest disposition: a context value that fails URL decoding gets the
// connection upgraded, then immediately closed with code 4000, and no
// session is ever registered.
func TestHandleVoiceSocketRejectsMalformedContextWithClose4000(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(http.HandlerFunc(a.handleVoiceSocket))
	defer srv.Close()

	// handleVoiceSocket's own query values have already been unescaped once
	// by net/http (r.URL.Query()), so triggering parseContext's decode
	// error requires a doubly-encoded value: "%25zz" decodes on the first
	// pass to the literal "%zz", which a second QueryUnescape rejects.
	wsURL := "ws" + srv.URL[len("http"):] + "/ws?context=%25zz"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, 4000, closeErr.Code)

	require.True(t, a.registry.IsEmpty())
}
