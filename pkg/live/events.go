package live

// Event is a marker interface for everything a Session surfaces on its event
// channel. Consumers type-switch on the concrete event types below. Events
// arrive in the order the server sent them.
type Event interface {
	liveEvent()
}

// OpenEvent signals that the server acknowledged the setup message. The
// session is fully established once this arrives.
type OpenEvent struct{}

// AudioEvent carries one decoded chunk of synthesised speech (24 kHz mono
// s16le PCM).
type AudioEvent struct {
	MIMEType string
	PCM      []byte
}

// Source identifies which side of the conversation a transcript delta
// belongs to.
type Source string

// Transcript sources.
const (
	// SourceModel is the text rendering of the model's spoken output.
	SourceModel Source = "model"

	// SourceUser is the service's recognition of the microphone stream.
	SourceUser Source = "user"
)

// TranscriptDeltaEvent carries an incremental piece of transcription text.
// Deltas are fragments; callers accumulate them until a TurnCompleteEvent.
type TranscriptDeltaEvent struct {
	Source Source
	Text   string
}

// TurnCompleteEvent signals that the model finished its current response turn.
type TurnCompleteEvent struct{}

// InterruptedEvent signals that the model's response was cut off, typically
// because the user started speaking over it. Any audio already delivered for
// the interrupted turn should be discarded.
type InterruptedEvent struct{}

// ServerErrorEvent carries a non-fatal error reported by the server or hit
// while decoding a server frame. The session keeps running.
type ServerErrorEvent struct {
	Err error
}

// CloseEvent is the final event before the channel closes and carries the
// close reason. No automatic reconnection is attempted.
type CloseEvent struct {
	Reason string
}

func (OpenEvent) liveEvent()            {}
func (AudioEvent) liveEvent()           {}
func (TranscriptDeltaEvent) liveEvent() {}
func (TurnCompleteEvent) liveEvent()    {}
func (InterruptedEvent) liveEvent()     {}
func (ServerErrorEvent) liveEvent()     {}
func (CloseEvent) liveEvent()           {}
