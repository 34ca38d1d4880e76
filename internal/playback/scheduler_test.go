package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vocanto/vocanto/pkg/audio"
)

// recordingSink captures writes and flushes for assertions.
type recordingSink struct {
	mu       sync.Mutex
	writes   [][]byte
	flushes  int
	closed   bool
	writeErr error
}

func (r *recordingSink) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	r.writes = append(r.writes, cp)
	return nil
}

func (r *recordingSink) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) flushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

func (r *recordingSink) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

// pcm returns d worth of 24 kHz mono s16le PCM.
func pcm(d time.Duration) []byte {
	return audio.Silence(d, audio.PlaybackRate)
}

func newTestScheduler(opts ...Option) (*Scheduler, *recordingSink, *clock.Mock) {
	sink := &recordingSink{}
	mock := clock.NewMock()
	opts = append([]Option{WithClock(mock)}, opts...)
	return NewScheduler(sink, audio.PlaybackRate, opts...), sink, mock
}

func TestEnqueue_BackToBack(t *testing.T) {
	t.Parallel()

	s, _, mock := newTestScheduler()
	t0 := mock.Now()

	durations := []time.Duration{
		500 * time.Millisecond,
		300 * time.Millisecond,
		200 * time.Millisecond,
	}
	units := make([]Unit, len(durations))
	for i, d := range durations {
		u, err := s.Enqueue(pcm(d))
		if err != nil {
			t.Fatalf("Enqueue(%v): %v", d, err)
		}
		units[i] = u
	}

	// Starts are gap-free and non-decreasing.
	if !units[0].Start.Equal(t0) {
		t.Errorf("unit[0].Start = %v; want %v", units[0].Start, t0)
	}
	for i := 1; i < len(units); i++ {
		wantStart := units[i-1].Start.Add(units[i-1].Duration)
		if !units[i].Start.Equal(wantStart) {
			t.Errorf("unit[%d].Start = %v; want %v (end of previous unit)", i, units[i].Start, wantStart)
		}
	}

	// The whole sequence spans exactly one second.
	span := units[2].Start.Add(units[2].Duration).Sub(units[0].Start)
	if span != time.Second {
		t.Errorf("sequence span = %v; want 1s", span)
	}
	if got := s.NextStart(); !got.Equal(t0.Add(time.Second)) {
		t.Errorf("NextStart = %v; want %v", got, t0.Add(time.Second))
	}
}

func TestEnqueue_IDsIncrease(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler()

	var last uint64
	for range 5 {
		u, err := s.Enqueue(pcm(10 * time.Millisecond))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if u.ID <= last {
			t.Fatalf("unit ID %d not greater than previous %d", u.ID, last)
		}
		last = u.ID
	}
}

func TestEnqueue_StartsNowAfterIdleGap(t *testing.T) {
	t.Parallel()

	s, _, mock := newTestScheduler()

	if _, err := s.Enqueue(pcm(100 * time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Let the first unit finish and the schedule go idle.
	mock.Add(500 * time.Millisecond)

	u, err := s.Enqueue(pcm(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !u.Start.Equal(mock.Now()) {
		t.Errorf("Start after idle gap = %v; want now (%v)", u.Start, mock.Now())
	}
}

func TestEnqueue_BadPCM(t *testing.T) {
	t.Parallel()

	s, sink, _ := newTestScheduler()

	before := s.NextStart()
	for _, bad := range [][]byte{nil, {}, make([]byte, 3)} {
		if _, err := s.Enqueue(bad); !errors.Is(err, ErrBadPCM) {
			t.Errorf("Enqueue(%d bytes) = %v; want ErrBadPCM", len(bad), err)
		}
	}

	if got := s.NextStart(); !got.Equal(before) {
		t.Errorf("NextStart moved to %v after rejected payloads; want %v", got, before)
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d after rejected payloads; want 0", s.Active())
	}
	if sink.writeCount() != 0 {
		t.Errorf("sink received %d writes for rejected payloads; want 0", sink.writeCount())
	}
}

func TestEnqueue_SinkError(t *testing.T) {
	t.Parallel()

	s, sink, _ := newTestScheduler()
	sink.writeErr = errors.New("device gone")

	before := s.NextStart()
	if _, err := s.Enqueue(pcm(100 * time.Millisecond)); err == nil {
		t.Fatal("Enqueue with failing sink should return an error")
	}
	if got := s.NextStart(); !got.Equal(before) {
		t.Errorf("NextStart moved after failed write")
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d after failed write; want 0", s.Active())
	}
}

func TestEnqueue_WritesPayloadToSink(t *testing.T) {
	t.Parallel()

	s, sink, _ := newTestScheduler()

	payload := pcm(20 * time.Millisecond)
	payload[0] = 0x7F
	if _, err := s.Enqueue(payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if sink.writeCount() != 1 {
		t.Fatalf("sink writes = %d; want 1", sink.writeCount())
	}
	if string(sink.writes[0]) != string(payload) {
		t.Error("sink payload differs from enqueued payload")
	}
}

func TestCompletion_RemovesUnit(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		done []Unit
	)
	s, _, mock := newTestScheduler(WithOnComplete(func(u Unit) {
		mu.Lock()
		done = append(done, u)
		mu.Unlock()
	}))

	u, err := s.Enqueue(pcm(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if s.Active() != 1 {
		t.Fatalf("Active = %d; want 1", s.Active())
	}

	mock.Add(150 * time.Millisecond)

	if s.Active() != 0 {
		t.Errorf("Active = %d after play time elapsed; want 0", s.Active())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(done) != 1 || done[0].ID != u.ID {
		t.Errorf("completed units = %v; want exactly unit %d", done, u.ID)
	}
}

func TestInterrupt_FlushesAndResetsClock(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		done int
	)
	s, sink, mock := newTestScheduler(WithOnComplete(func(Unit) {
		mu.Lock()
		done++
		mu.Unlock()
	}))

	for range 3 {
		if _, err := s.Enqueue(pcm(200 * time.Millisecond)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if n := s.Interrupt(); n != 3 {
		t.Errorf("Interrupt cancelled %d units; want 3", n)
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d after Interrupt; want 0", s.Active())
	}
	if !s.NextStart().IsZero() {
		t.Errorf("NextStart = %v after Interrupt; want zero", s.NextStart())
	}
	if sink.flushCount() != 1 {
		t.Errorf("sink flushes = %d; want 1", sink.flushCount())
	}

	// Cancelled units never complete, even after their play time passes.
	mock.Add(time.Second)
	mu.Lock()
	if done != 0 {
		t.Errorf("onComplete fired %d times for cancelled units; want 0", done)
	}
	mu.Unlock()

	// The next chunk starts immediately.
	u, err := s.Enqueue(pcm(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue after Interrupt: %v", err)
	}
	if !u.Start.Equal(mock.Now()) {
		t.Errorf("Start after Interrupt = %v; want now (%v)", u.Start, mock.Now())
	}
}

func TestInterrupt_EmptySchedule(t *testing.T) {
	t.Parallel()

	s, sink, _ := newTestScheduler()

	if n := s.Interrupt(); n != 0 {
		t.Errorf("Interrupt on empty schedule cancelled %d units; want 0", n)
	}
	if sink.flushCount() != 1 {
		t.Errorf("sink flushes = %d; want 1", sink.flushCount())
	}
}

func TestClose_ClosesSink(t *testing.T) {
	t.Parallel()

	s, sink, _ := newTestScheduler()
	if _, err := s.Enqueue(pcm(100 * time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d after Close; want 0", s.Active())
	}
}
