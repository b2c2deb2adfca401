package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/flowvox/voicebridge/pkg/transform"
	"github.com/flowvox/voicebridge/pkg/ultravox"
)

const (
	// writeBackpressureWindow bounds how long a send blocks before the
	// relay gives up and drops the frame. Audio transport is lossy by
	// design; there are no unbounded internal queues.
	writeBackpressureWindow = 200 * time.Millisecond
	// clientPingInterval is the keep-alive cadence on the client leg.
	clientPingInterval = 30 * time.Second
)

// runRelay starts the client reader, the upstream reader, and the client
// keep-alive pinger, and blocks until one of them ends the session. Each
// reader owns its own Direction (smoother tail) and touches it from no
// other goroutine, so no locking is required around the tail.
func (s *Session) runRelay(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.clientReadLoop(gctx) })
	g.Go(func() error { return s.upstreamReadLoop(gctx) })
	g.Go(func() error { return s.clientPingLoop(gctx) })

	return g.Wait()
}

func (s *Session) clientReadLoop(ctx context.Context) error {
	dir := transform.NewDirection()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		msgType, data, err := s.clientConn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Wrap(KindPeerClosed, err)
			}
			return Wrap(KindPeerError, err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.bytesFromClient.Add(int64(len(data)))
			wide := dir.ClientToUpstream(data)
			if len(wide) == 0 {
				continue
			}
			if err := s.sendToUpstream(websocket.BinaryMessage, wide); err != nil {
				return Wrap(KindPeerError, err)
			}
			s.conversions.Add(1)
			s.metrics.BytesRelayed("client_to_upstream", len(data))

		case websocket.TextMessage:
			if err := s.sendToUpstream(websocket.TextMessage, data); err != nil {
				return Wrap(KindPeerError, err)
			}
		}
	}
}

func (s *Session) upstreamReadLoop(ctx context.Context) error {
	dir := transform.NewDirection()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		msgType, data, err := s.upstreamConn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Wrap(KindPeerClosed, err)
			}
			return Wrap(KindPeerError, err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.bytesToClient.Add(int64(len(data)))
			narrow, err := dir.UpstreamToClient(data)
			if err != nil {
				slog.Warn("dropping malformed upstream frame", "session", s.ID, "error", err)
				continue
			}
			if len(narrow) == 0 || transform.IsUniformlySilent(narrow) {
				continue
			}
			if err := s.sendToClientBinary(narrow); err != nil {
				return Wrap(KindPeerError, err)
			}
			s.bytesToClient.Add(int64(len(narrow)))
			s.conversions.Add(1)
			s.metrics.BytesRelayed("upstream_to_client", len(narrow))

		case websocket.TextMessage:
			s.metrics.ControlMessageRelayed(string(ultravox.Classify(data)))
			if err := s.writeClientJSON(data); err != nil {
				return Wrap(KindPeerError, err)
			}
		}
	}
}

func (s *Session) clientPingLoop(ctx context.Context) error {
	ticker := time.NewTicker(clientPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.clientWriteMu.Lock()
			s.clientConn.SetWriteDeadline(time.Now().Add(writeBackpressureWindow))
			err := s.clientConn.WriteMessage(websocket.PingMessage, nil)
			s.clientConn.SetWriteDeadline(time.Time{})
			s.clientWriteMu.Unlock()
			if err != nil {
				return Wrap(KindPeerError, err)
			}
		}
	}
}

// sendToUpstream drops the frame silently if the upstream leg is not yet
// open or a bounded write blocks past writeBackpressureWindow; it only
// returns an error when the transport itself has failed.
func (s *Session) sendToUpstream(msgType int, data []byte) error {
	if s.State() != StateActive || s.upstreamConn == nil {
		return nil
	}

	s.upstreamWriteMu.Lock()
	defer s.upstreamWriteMu.Unlock()

	s.upstreamConn.SetWriteDeadline(time.Now().Add(writeBackpressureWindow))
	err := s.upstreamConn.WriteMessage(msgType, data)
	s.upstreamConn.SetWriteDeadline(time.Time{})
	if err == nil {
		return nil
	}
	if isTimeoutErr(err) {
		return nil
	}
	return err
}

func (s *Session) sendToClientBinary(data []byte) error {
	if s.State() != StateActive {
		return nil
	}

	s.clientWriteMu.Lock()
	defer s.clientWriteMu.Unlock()

	s.clientConn.SetWriteDeadline(time.Now().Add(writeBackpressureWindow))
	err := s.clientConn.WriteMessage(websocket.BinaryMessage, data)
	s.clientConn.SetWriteDeadline(time.Time{})
	if err == nil {
		return nil
	}
	if isTimeoutErr(err) {
		return nil
	}
	return err
}

type timeouter interface {
	Timeout() bool
}

func isTimeoutErr(err error) bool {
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
