package playback

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Compile-time assertion that SpeakerSink satisfies Sink.
var _ Sink = (*SpeakerSink)(nil)

// SpeakerSink plays mono s16le PCM through the system speaker via oto.
// The player is created lazily on the first Write so a silent session never
// opens an output stream; Flush tears the player down again, which is how
// barge-in cuts audio off mid-chunk.
type SpeakerSink struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	player  *oto.Player
	buf     []byte
	gen     uint64
	playing bool
	closed  bool
}

// playerReader feeds one oto player. Each player owns a reader stamped with
// the generation it was created under; Flush advances the generation, so a
// reader left blocked by a flushed player reports EOF instead of consuming
// audio meant for the next player.
type playerReader struct {
	s   *SpeakerSink
	gen uint64
}

// Read implements io.Reader for oto.Player; oto pulls audio data through it.
func (r *playerReader) Read(p []byte) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed && s.gen == r.gen {
		s.cond.Wait()
	}

	if s.gen != r.gen {
		return 0, io.EOF
	}
	if s.closed && len(s.buf) == 0 {
		// Feed silence so oto drains gracefully.
		clear(p)
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// NewSpeakerSink opens an audio output context at the given sample rate and
// waits for the audio backend to become ready.
func NewSpeakerSink(sampleRate int) (*SpeakerSink, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open speaker: %w", err)
	}
	<-ready

	s := &SpeakerSink{otoCtx: otoCtx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write appends pcm to the playback buffer and starts the player if it is
// not already running.
func (s *SpeakerSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("playback: speaker closed")
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(&playerReader{s: s, gen: s.gen})
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Flush discards all pending audio and stops the current player immediately.
// The next Write starts a fresh player.
func (s *SpeakerSink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.gen++
	s.cond.Broadcast() // retire any reader blocked on the old generation
	player := s.player
	s.player = nil
	s.playing = false
	s.mu.Unlock()

	if player != nil {
		// Pause stops audible output at once; Reset drops oto's internal
		// buffer so stale audio cannot overlap the next response.
		player.Pause()
		player.Reset()
		player.Close()
	}
}

// Close stops playback and releases the player. Idempotent.
func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast() // wake any blocked Read
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
