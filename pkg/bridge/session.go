// Package bridge implements the per-session audio relay: it pairs a client
// WebSocket with an upstream agent WebSocket, couples their lifecycles, and
// routes binary frames through the transform pipeline while relaying JSON
// control messages unchanged.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowvox/voicebridge/pkg/metrics"
	"github.com/flowvox/voicebridge/pkg/ultravox"
)

// State is one step in a session's lifecycle. Only forward transitions are
// permitted; anything else is a programming error.
type State int32

const (
	StateAccepted State = iota
	StateUpstreamConnecting
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateUpstreamConnecting:
		return "upstream_connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of a session's counters, used by the
// registry's periodic stats report.
type Stats struct {
	ID              string
	State           State
	BytesFromClient int64
	BytesToClient   int64
	Conversions     int64
	Age             time.Duration
}

// Session is one client call bridged to one upstream agent call.
type Session struct {
	ID            string
	contextPrompt string

	clientConn   *websocket.Conn
	clientWriteMu sync.Mutex

	upstreamClient *ultravox.Client
	upstreamConn   *websocket.Conn
	upstreamWriteMu sync.Mutex

	registry *Registry
	metrics  *metrics.Bridge

	stateMu sync.Mutex
	state   State

	connectedOnce sync.Once
	closeOnce     sync.Once

	bytesFromClient atomic.Int64
	bytesToClient   atomic.Int64
	conversions     atomic.Int64

	startedAt time.Time
	done      chan struct{}
}

// NewSession creates a session in the Accepted state. The caller must call
// Start to establish the upstream leg and begin pumping.
func NewSession(id, contextPrompt string, clientConn *websocket.Conn, upstreamClient *ultravox.Client, reg *Registry, m *metrics.Bridge) *Session {
	return &Session{
		ID:             id,
		contextPrompt:  contextPrompt,
		clientConn:     clientConn,
		upstreamClient: upstreamClient,
		registry:       reg,
		metrics:        m,
		state:          StateAccepted,
		startedAt:      time.Now(),
		done:           make(chan struct{}),
	}
}

var forwardEdges = map[State][]State{
	StateAccepted:           {StateUpstreamConnecting, StateClosing},
	StateUpstreamConnecting: {StateActive, StateClosing},
	StateActive:             {StateClosing},
	StateClosing:            {StateClosed},
}

func (s *Session) transitionTo(next State) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	for _, allowed := range forwardEdges[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("bridge: invalid session transition %s -> %s", s.state, next)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Start establishes the upstream call and runs the duplex relay pump until
// either endpoint closes. It blocks for the lifetime of the session.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transitionTo(StateUpstreamConnecting); err != nil {
		return err
	}

	joinURL, err := s.upstreamClient.CreateCall(ctx, s.contextPrompt)
	if err != nil {
		s.failStartup(KindUpstreamSetup, err, "failed to start upstream call")
		return Wrap(KindUpstreamSetup, err)
	}

	conn, err := s.upstreamClient.Dial(ctx, joinURL)
	if err != nil {
		s.failStartup(KindUpstreamConnect, err, "Ultravox connection timeout")
		return Wrap(KindUpstreamConnect, err)
	}
	s.upstreamConn = conn

	if err := s.transitionTo(StateActive); err != nil {
		conn.Close()
		return err
	}
	s.metrics.SessionActivated()
	s.sendConnectedOnce()

	err = s.runRelay(ctx)
	s.Close("relay ended")
	return err
}

func (s *Session) failStartup(kind Kind, cause error, clientMessage string) {
	_ = s.writeClientJSON(ultravox.NewErrorMessage(clientMessage, errString(cause)))
	s.Close(string(kind))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Session) sendConnectedOnce() {
	s.connectedOnce.Do(func() {
		_ = s.writeClientJSON(ultravox.NewConnectedMessage())
	})
}

// Close idempotently closes both endpoints, removes the session from the
// registry, and finalizes its counters. Safe to call multiple times and
// from multiple goroutines.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.stateMu.Lock()
		s.state = StateClosing
		s.stateMu.Unlock()

		close(s.done)

		if s.clientConn != nil {
			s.clientConn.Close()
		}
		if s.upstreamConn != nil {
			s.upstreamConn.Close()
		}

		s.stateMu.Lock()
		s.state = StateClosed
		s.stateMu.Unlock()

		if s.registry != nil {
			s.registry.Remove(s.ID)
		}
		s.metrics.SessionClosed(reason)
	})
}

// Snapshot returns the session's current counters for stats reporting.
func (s *Session) Snapshot() Stats {
	return Stats{
		ID:              s.ID,
		State:           s.State(),
		BytesFromClient: s.bytesFromClient.Load(),
		BytesToClient:   s.bytesToClient.Load(),
		Conversions:     s.conversions.Load(),
		Age:             time.Since(s.startedAt),
	}
}

func (s *Session) writeClientJSON(payload []byte) error {
	s.clientWriteMu.Lock()
	defer s.clientWriteMu.Unlock()

	s.clientConn.SetWriteDeadline(time.Now().Add(writeBackpressureWindow))
	err := s.clientConn.WriteMessage(websocket.TextMessage, payload)
	s.clientConn.SetWriteDeadline(time.Time{})
	if err == nil || isTimeoutErr(err) {
		return nil
	}
	return err
}
