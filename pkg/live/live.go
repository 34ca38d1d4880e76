// Package live implements a client for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio is transmitted as base64-encoded PCM chunks; everything the
// server sends back — synthesised speech, transcription deltas, turn and
// interruption signals — is surfaced on a single ordered [Event] channel.
package live

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// MediaChunkMIME is the MIME type of outbound microphone PCM chunks.
const MediaChunkMIME = "audio/pcm;rate=16000"

// Modality selects a response channel the model may answer on.
type Modality string

// Supported response modalities.
const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// IsValid reports whether m is a known modality.
func (m Modality) IsValid() bool {
	return m == ModalityAudio || m == ModalityText
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client dials Gemini Live sessions.
type Client struct {
	apiKey  string
	model   string
	baseURL string
}

// NewClient creates a Live client with the given API key and options.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionConfig describes one session's setup message.
type SessionConfig struct {
	// Voice is the prebuilt voice name, e.g. "Orus". Empty leaves the
	// service default.
	Voice string

	// SystemInstruction is the persona/system prompt for the session.
	SystemInstruction string

	// ResponseModalities defaults to audio-only when empty.
	ResponseModalities []Modality

	// InputTranscription requests text transcription of what the service
	// heard on the microphone stream.
	InputTranscription bool

	// OutputTranscription requests incremental text transcription of the
	// model's spoken output.
	OutputTranscription bool
}

// ConnectError wraps a failure to establish a session: the dial itself or the
// initial setup write.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("live: connect: %v", e.Err) }

func (e *ConnectError) Unwrap() error { return e.Err }

// Connect establishes a new Live session with the given configuration. The
// returned Session accepts outbound sends immediately after the setup message
// is written; an [OpenEvent] arrives on [Session.Events] once the server
// acknowledges setup.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.baseURL, c.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, &ConnectError{Err: fmt.Errorf("dial: %w", err)}
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(c.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, &ConnectError{Err: fmt.Errorf("setup: %w", err)}
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}
