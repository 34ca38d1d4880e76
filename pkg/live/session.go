package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrClosed is returned by outbound sends on a closed session.
var ErrClosed = errors.New("live: session closed")

// Session is one established Live connection. Outbound sends may be called
// from one goroutine at a time; inbound traffic arrives on [Session.Events].
type Session struct {
	conn   *websocket.Conn
	events chan Event

	mu     sync.Mutex
	errVal error
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *Session) sendSetup(model string, cfg SessionConfig) error {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []Modality{ModalityAudio}
	}
	names := make([]string, len(modalities))
	for i, m := range modalities {
		names[i] = string(m)
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: names,
			},
		},
	}

	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []Part{{Text: cfg.SystemInstruction}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// emit delivers ev to the event channel, giving up if the session context is
// cancelled while the consumer is not keeping up.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the event channel: it emits the final CloseEvent and closes the
// channel when it exits.
func (s *Session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.emitClose("session closed")
				return
			}
			s.setErr(err)
			s.emitClose(closeReason(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.handleServerMessage(&msg)
	}
}

func (s *Session) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil {
		s.emit(OpenEvent{})
	}
	if msg.Error != nil {
		text := "unknown error"
		if msg.Error.Message != "" {
			text = msg.Error.Message
		}
		s.emit(ServerErrorEvent{Err: fmt.Errorf("live: server error: %s", text)})
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
}

func (s *Session) handleServerContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		// Emit audio chunks and text parts in a single pass, preserving
		// part order. A part whose payload fails to decode is dropped
		// without killing the stream.
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					s.emit(ServerErrorEvent{Err: fmt.Errorf("live: decode audio part: %w", err)})
					continue
				}
				if len(pcm) == 0 {
					continue
				}
				s.emit(AudioEvent{MIMEType: p.InlineData.MIMEType, PCM: pcm})
			}
			if p.Text != "" {
				s.emit(TranscriptDeltaEvent{Source: SourceModel, Text: p.Text})
			}
		}
	}

	// User speech recognition result.
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(TranscriptDeltaEvent{Source: SourceUser, Text: sc.InputTranscription.Text})
	}

	// Text rendering of the model's audio output.
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(TranscriptDeltaEvent{Source: SourceModel, Text: sc.OutputTranscription.Text})
	}

	if sc.Interrupted {
		s.emit(InterruptedEvent{})
	}
	if sc.TurnComplete {
		s.emit(TurnCompleteEvent{})
	}
}

// keepaliveLoop sends WebSocket pings to keep the Live connection alive.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// emitClose delivers the final CloseEvent without blocking. The channel
// buffer is large enough in practice; a consumer that stopped draining
// entirely loses only the close notification.
func (s *Session) emitClose(reason string) {
	select {
	case s.events <- CloseEvent{Reason: reason}:
	default:
	}
}

func (s *Session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// closeReason extracts a human-readable close reason from a read error.
func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Reason != "" {
			return ce.Reason
		}
		return ce.Code.String()
	}
	return err.Error()
}

// ── Session methods ────────────────────────────────────────────────────────────

// Events returns the channel on which all inbound session events arrive.
// The channel closes after the final CloseEvent.
func (s *Session) Events() <-chan Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// SendMediaChunk delivers one raw PCM microphone chunk (16 kHz, s16le, mono)
// to the model as realtime input.
func (s *Session) SendMediaChunk(pcm []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: MediaChunkMIME, Data: base64.StdEncoding.EncodeToString(pcm)},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendTurnComplete marks the end of the user's realtime input turn, telling
// the model it may respond now.
func (s *Session) SendTurnComplete() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{TurnComplete: true},
	}
	return s.writeJSON(msg)
}

// SendContent sends a complete user turn of multimodal parts.
func (s *Session) SendContent(parts []Part) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(parts) == 0 {
		return nil
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{
				{Role: "user", Parts: parts},
			},
			TurnComplete: true,
		},
	}
	return s.writeJSON(msg)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
