// Package turn tracks whose turn it is in a live voice conversation.
//
// The machine moves between four states:
//
//	Idle       no microphone capture
//	Listening  capture running, chunks streaming to the service
//	Locked     capture muted, waiting for the model to respond
//	Sending    a text/attachment turn is being composed and transmitted
//
// All side effects of a transition (starting capture, muting, signalling end
// of turn) run through injected hooks so the machine is testable in isolation.
package turn

import "sync"

// State is the current position in the turn cycle.
type State uint8

// Turn states.
const (
	Idle State = iota
	Listening
	Locked
	Sending
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Locked:
		return "locked"
	case Sending:
		return "sending"
	default:
		return "unknown"
	}
}

// Hooks are the transition side effects. Nil hooks are skipped.
type Hooks struct {
	// StartCapture opens the microphone. A returned error aborts the
	// Idle→Listening transition.
	StartCapture func() error

	// StopCapture tears the microphone down.
	StopCapture func()

	// Mute and Unmute toggle the microphone without teardown.
	Mute   func()
	Unmute func()

	// EndOfTurn tells the service the user's turn is over and it may
	// respond now.
	EndOfTurn func()
}

// Machine is a mutex-guarded turn state machine. Illegal transitions are
// silent no-ops; only Start can fail, and only via its hook.
type Machine struct {
	hooks Hooks

	mu       sync.Mutex
	state    State
	resumeTo State // state to restore after Sending
}

// New creates a Machine in the Idle state.
func New(hooks Hooks) *Machine {
	return &Machine{hooks: hooks}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start moves Idle→Listening and opens the microphone. Calling Start while
// already Listening or Locked is a no-op; the machine stays where it is.
// If the capture hook fails the machine remains Idle.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Idle {
		return nil
	}
	if m.hooks.StartCapture != nil {
		if err := m.hooks.StartCapture(); err != nil {
			return err
		}
	}
	m.state = Listening
	return nil
}

// Lock moves Listening→Locked: the microphone is muted and the service is
// told the user's turn is over. A no-op from any other state; in particular
// there is no Idle→Locked transition.
func (m *Machine) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked()
}

// lockLocked is Lock without the mutex; callers must hold m.mu.
func (m *Machine) lockLocked() {
	if m.state != Listening {
		return
	}
	if m.hooks.Mute != nil {
		m.hooks.Mute()
	}
	if m.hooks.EndOfTurn != nil {
		m.hooks.EndOfTurn()
	}
	m.state = Locked
}

// Resume moves Locked→Listening and unmutes the microphone. A no-op from any
// other state, including when already Listening.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Locked {
		return
	}
	if m.hooks.Unmute != nil {
		m.hooks.Unmute()
	}
	m.state = Listening
}

// Stop moves Listening or Locked→Idle and tears the microphone down.
// A no-op when already Idle.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Listening && m.state != Locked {
		return
	}
	if m.hooks.StopCapture != nil {
		m.hooks.StopCapture()
	}
	m.state = Idle
}

// BeginSend enters the transient Sending state for a text/attachment turn.
// From Listening it performs the implicit Lock first (mute + end of turn), so
// the user's spoken turn is closed before the composed turn goes out. The
// matching FinishSend restores Locked, or Idle when the send started from
// Idle.
func (m *Machine) BeginSend() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Sending {
		return
	}
	m.lockLocked()

	// After lockLocked the state is Locked (came from Listening or was
	// already Locked) or still Idle.
	m.resumeTo = m.state
	m.state = Sending
}

// FinishSend leaves the Sending state. A no-op unless currently Sending.
func (m *Machine) FinishSend() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Sending {
		return
	}
	m.state = m.resumeTo
}
