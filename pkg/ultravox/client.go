// Package ultravox is a client for the upstream hosted conversational-voice
// agent: it creates a call over HTTP and joins the resulting WebSocket,
// exchanging wide-band linear PCM with the agent.
package ultravox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// CallCreateTimeout bounds the upstream call-creation HTTP request.
	CallCreateTimeout = 10 * time.Second
	// DialTimeout bounds the upstream WebSocket handshake.
	DialTimeout = 15 * time.Second

	defaultBaseURL = "https://api.ultravox.ai/api"
)

// Config holds the static parameters used to create every call against the
// upstream agent. APIKey is required. BaseURL, Model, Voice, Medium and
// FirstSpeaker fall back to defaults when empty; VAD and RecordingEnabled
// are sent as given, zero values included.
type Config struct {
	APIKey  string
	BaseURL string // defaults to the production Ultravox API root

	Model   string // default "fixie-ai/ultravox"
	Voice   string // default "Mark"
	Medium  Medium
	VAD     VADConfig
	FirstSpeaker     string // default "FIRST_SPEAKER_USER"
	RecordingEnabled bool
}

// Medium describes the wide-band sample rates the bridge presents to the
// agent on both legs of the call.
type Medium struct {
	InputSampleRate  int
	OutputSampleRate int
}

// VADConfig mirrors the agent's voice-activity-detection tuning. These are
// configuration of the external agent, not core bridge behavior.
type VADConfig struct {
	TurnEndpointDelayMs      int
	MinimumTurnDurationMs    int
	MinimumInterruptionMs    int
	ActivationThreshold      float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.Model == "" {
		out.Model = "fixie-ai/ultravox"
	}
	if out.Voice == "" {
		out.Voice = "Mark"
	}
	if out.Medium.InputSampleRate == 0 {
		out.Medium.InputSampleRate = 48000
	}
	if out.Medium.OutputSampleRate == 0 {
		out.Medium.OutputSampleRate = 48000
	}
	if out.FirstSpeaker == "" {
		out.FirstSpeaker = "FIRST_SPEAKER_USER"
	}
	return out
}

// Client creates and joins calls against the upstream agent.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates an upstream agent client from the given config.
func NewClient(cfg Config) *Client {
	resolved := cfg.withDefaults()
	return &Client{
		cfg:        resolved,
		httpClient: &http.Client{Timeout: CallCreateTimeout},
	}
}

type callMediumConfig struct {
	ServerWebSocket *serverWebSocketMedium `json:"serverWebSocket"`
}

type serverWebSocketMedium struct {
	InputSampleRate  int `json:"inputSampleRate"`
	OutputSampleRate int `json:"outputSampleRate"`
}

type createCallRequest struct {
	SystemPrompt            string           `json:"systemPrompt"`
	Model                   string           `json:"model"`
	Voice                   string           `json:"voice"`
	Medium                  callMediumConfig `json:"medium"`
	FirstSpeaker            string           `json:"firstSpeaker"`
	RecordingEnabled        bool             `json:"recordingEnabled"`
	VadSettings             vadSettings      `json:"vadSettings"`
}

type vadSettings struct {
	TurnEndpointDelay   string  `json:"turnEndpointDelay"`
	MinimumTurnDuration string  `json:"minimumTurnDuration"`
	MinimumInterruption string  `json:"minimumInterruptionDuration"`
	Threshold           float64 `json:"threshold"`
}

type createCallResponse struct {
	JoinURL string `json:"joinUrl"`
}

// CreateCall issues the call-creation POST, deriving the agent's system
// prompt from the session's opaque context string. It returns the join URL
// to dial next.
func (c *Client) CreateCall(ctx context.Context, contextPrompt string) (string, error) {
	body := createCallRequest{
		SystemPrompt: contextPrompt,
		Model:        c.cfg.Model,
		Voice:        c.cfg.Voice,
		Medium: callMediumConfig{ServerWebSocket: &serverWebSocketMedium{
			InputSampleRate:  c.cfg.Medium.InputSampleRate,
			OutputSampleRate: c.cfg.Medium.OutputSampleRate,
		}},
		FirstSpeaker:     c.cfg.FirstSpeaker,
		RecordingEnabled: c.cfg.RecordingEnabled,
		VadSettings: vadSettings{
			TurnEndpointDelay:   fmt.Sprintf("%dms", c.cfg.VAD.TurnEndpointDelayMs),
			MinimumTurnDuration: fmt.Sprintf("%dms", c.cfg.VAD.MinimumTurnDurationMs),
			MinimumInterruption: fmt.Sprintf("%dms", c.cfg.VAD.MinimumInterruptionMs),
			Threshold:           c.cfg.VAD.ActivationThreshold,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ultravox: marshal call request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, CallCreateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/calls", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ultravox: build call request: %w", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ultravox: call request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ultravox: call creation returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed createCallResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("ultravox: decode call response: %w", err)
	}
	if parsed.JoinURL == "" {
		return "", fmt.Errorf("ultravox: call response missing joinUrl")
	}
	return parsed.JoinURL, nil
}

// Dial opens the upstream WebSocket for a previously created call, with
// permessage-deflate disabled and a bounded handshake timeout.
func (c *Client) Dial(ctx context.Context, joinURL string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout:  DialTimeout,
		EnableCompression: false,
	}

	conn, _, err := dialer.DialContext(ctx, joinURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ultravox: dial join url: %w", err)
	}
	return conn, nil
}
