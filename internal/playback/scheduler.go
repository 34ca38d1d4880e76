// Package playback schedules synthesised speech chunks for gap-free output.
//
// Chunks arrive from the network faster than real time, so each one is
// assigned a start time on a monotonic output clock: the first chunk starts
// now, every later chunk starts exactly where the previous one ends. An
// interruption (the user barging in over the model) cancels everything at
// once and resets the clock so the next response starts immediately.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vocanto/vocanto/pkg/audio"
)

// ErrBadPCM is returned by Enqueue for payloads that are empty or not
// sample-aligned. The output clock is left untouched.
var ErrBadPCM = errors.New("playback: misaligned PCM payload")

// Sink receives scheduled PCM. Write must not block for the duration of the
// audio; Flush discards everything buffered but not yet played.
type Sink interface {
	Write(pcm []byte) error
	Flush()
	Close() error
}

// Unit is one scheduled chunk of speech.
type Unit struct {
	ID       uint64
	Start    time.Time
	Duration time.Duration
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock. Used in tests with a mock clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithOnComplete registers a callback invoked once per unit when its
// scheduled play time has fully elapsed. Not invoked for interrupted units.
func WithOnComplete(fn func(Unit)) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// Scheduler assigns start times to speech chunks and tracks which are still
// playing. Safe for concurrent use; all clock and arena mutation happens
// under one mutex.
type Scheduler struct {
	sink       Sink
	clk        clock.Clock
	sampleRate int
	onComplete func(Unit)

	mu     sync.Mutex
	nextID uint64
	active map[uint64]*scheduledUnit
	next   time.Time // zero means "schedule from now"
}

type scheduledUnit struct {
	Unit
	timer *clock.Timer
}

// NewScheduler creates a Scheduler writing to sink at the given sample rate.
func NewScheduler(sink Sink, sampleRate int, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:       sink,
		clk:        clock.New(),
		sampleRate: sampleRate,
		active:     make(map[uint64]*scheduledUnit),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue validates pcm, writes it to the sink, and schedules it at
// max(next free slot, now). Start times never decrease in arrival order and
// an uninterrupted sequence plays back to back with no gaps.
func (s *Scheduler) Enqueue(pcm []byte) (Unit, error) {
	if len(pcm) == 0 || !audio.Aligned(pcm) {
		return Unit{}, fmt.Errorf("%w: %d bytes", ErrBadPCM, len(pcm))
	}
	dur := audio.Duration(len(pcm), s.sampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sink.Write(pcm); err != nil {
		return Unit{}, fmt.Errorf("playback: sink write: %w", err)
	}

	now := s.clk.Now()
	start := s.next
	if start.Before(now) {
		start = now
	}

	s.nextID++
	u := &scheduledUnit{Unit: Unit{ID: s.nextID, Start: start, Duration: dur}}
	s.active[u.ID] = u
	s.next = start.Add(dur)

	id := u.ID
	u.timer = s.clk.AfterFunc(s.next.Sub(now), func() { s.complete(id) })

	return u.Unit, nil
}

// complete removes a finished unit from the active set.
func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	u, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	s.mu.Unlock()

	if ok && s.onComplete != nil {
		s.onComplete(u.Unit)
	}
}

// Interrupt cancels every active unit, resets the output clock so the next
// chunk starts immediately, and flushes the sink. Returns the number of
// units cancelled.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	n := len(s.active)
	for id, u := range s.active {
		u.timer.Stop()
		delete(s.active, id)
	}
	s.next = time.Time{}
	s.mu.Unlock()

	s.sink.Flush()
	return n
}

// Active returns the number of units currently scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the time the next enqueued chunk would start, or the
// zero time when the schedule is empty and reset.
func (s *Scheduler) NextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close interrupts all playback and closes the sink.
func (s *Scheduler) Close() error {
	s.Interrupt()
	return s.sink.Close()
}
