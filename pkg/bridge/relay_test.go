package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvox/voicebridge/pkg/transform"
	"github.com/flowvox/voicebridge/pkg/ultravox"
)

// TestRelayPreservesClientToUpstreamOrder sends a sequence of distinct
// binary PCMU frames from the client and checks the upstream side observes
// their transformed counterparts in the same order (property 9).
func TestRelayPreservesClientToUpstreamOrder(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte

	var upgrader websocket.Upgrader
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				mu.Lock()
				received = append(received, append([]byte(nil), data...))
				mu.Unlock()
			}
		}
	}))
	defer upstreamSrv.Close()
	upstreamWSURL := "ws" + upstreamSrv.URL[len("http"):]

	createCallSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"joinUrl": upstreamWSURL})
	}))
	defer createCallSrv.Close()

	upstreamClient := ultravox.NewClient(ultravox.Config{APIKey: "key", BaseURL: createCallSrv.URL})

	clientDial, accepted, clientSrv := newClientSocketPair(t)
	defer clientDial.Close()
	defer clientSrv.Close()
	serverSideConn := <-accepted

	reg := NewRegistry()
	sess := NewSession("sess-order", "hello", serverSideConn, upstreamClient, reg, newTestMetrics(t))
	reg.Add(sess)

	done := make(chan error, 1)
	go func() { done <- sess.Start(context.Background()) }()

	// Wait for connected.
	clientDial.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clientDial.ReadMessage()
	require.NoError(t, err)

	frames := [][]byte{
		make([]byte, 160),
		make([]byte, 160),
		make([]byte, 160),
	}
	for i := range frames {
		for j := range frames[i] {
			frames[i][j] = byte(i*10 + j%7)
		}
	}

	for _, f := range frames {
		require.NoError(t, clientDial.WriteMessage(websocket.BinaryMessage, f))
	}

	var expected [][]byte
	dir := transform.NewDirection()
	for _, f := range frames {
		expected = append(expected, dir.ClientToUpstream(f))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == len(frames)
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := range expected {
		assert.Equal(t, expected[i], received[i], "frame %d out of order or mistransformed", i)
	}

	sess.Close("test done")
	<-done
}

// TestRelayForwardsControlMessagesUnchanged covers S6: a JSON control
// message from upstream (playback_clear_buffer) must reach the client
// byte-for-byte, with no audio frame synthesized for it.
func TestRelayForwardsControlMessagesUnchanged(t *testing.T) {
	const controlMsg = `{"type":"playback_clear_buffer"}`

	var upgrader websocket.Upgrader
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(controlMsg)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer upstreamSrv.Close()
	upstreamWSURL := "ws" + upstreamSrv.URL[len("http"):]

	createCallSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"joinUrl": upstreamWSURL})
	}))
	defer createCallSrv.Close()

	upstreamClient := ultravox.NewClient(ultravox.Config{APIKey: "key", BaseURL: createCallSrv.URL})

	clientDial, accepted, clientSrv := newClientSocketPair(t)
	defer clientDial.Close()
	defer clientSrv.Close()
	serverSideConn := <-accepted

	reg := NewRegistry()
	sess := NewSession("sess-control", "hello", serverSideConn, upstreamClient, reg, newTestMetrics(t))
	reg.Add(sess)

	done := make(chan error, 1)
	go func() { done <- sess.Start(context.Background()) }()

	clientDial.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, connectedMsg, err := clientDial.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected"}`, string(connectedMsg))

	clientDial.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, relayed, err := clientDial.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, controlMsg, string(relayed))

	sess.Close("test done")
	<-done
}
