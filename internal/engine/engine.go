// Package engine ties the conversation together: it owns the live session,
// streams microphone chunks upstream, schedules returned speech for playback,
// tracks the turn cycle, and accumulates transcripts.
//
// An [Engine] lazily connects when [Engine.Run] starts and keeps the session
// until it ends or [Engine.Reset] asks for a fresh one. All outbound traffic
// goes through a single writer goroutine: microphone chunks are dropped when
// the queue is full (late audio is worthless), composed turns and end-of-turn
// markers block until queued so they are never lost.
//
// State for UIs is exposed as [Snapshot] values: [Engine.State] returns the
// current one and [Engine.Notify] delivers updates on a latest-wins channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/vocanto/vocanto/internal/capture"
	"github.com/vocanto/vocanto/internal/compose"
	"github.com/vocanto/vocanto/internal/observe"
	"github.com/vocanto/vocanto/internal/playback"
	"github.com/vocanto/vocanto/internal/transcript"
	"github.com/vocanto/vocanto/internal/turn"
	"github.com/vocanto/vocanto/pkg/audio"
	"github.com/vocanto/vocanto/pkg/live"
)

// outboundBuf is the depth of the outbound send queue. Microphone chunks that
// find the queue full are dropped; composed turns and markers block instead.
const outboundBuf = 64

// Status is the coarse session lifecycle phase.
type Status string

const (
	// StatusIdle means Run has not connected yet.
	StatusIdle Status = "idle"
	// StatusConnecting means the websocket dial or setup is in flight.
	StatusConnecting Status = "connecting"
	// StatusOpen means the service acknowledged setup; traffic may flow.
	StatusOpen Status = "open"
	// StatusClosed means the session ended normally.
	StatusClosed Status = "closed"
	// StatusError means the session died; Reset starts a fresh one.
	StatusError Status = "error"
)

// TransmissionError reports a failed outbound send.
type TransmissionError struct {
	// Op names what was being sent: "chunk", "content" or "marker".
	Op  string
	Err error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("engine: send %s: %v", e.Op, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// Snapshot is a point-in-time view of the engine for display. All fields are
// copies; holding a Snapshot never blocks the engine.
type Snapshot struct {
	Status Status
	// Err is the error that moved Status to StatusError, nil otherwise.
	Err error
	// Turn is the current turn-cycle state.
	Turn turn.State
	// Transcript is the model's in-progress spoken transcript.
	Transcript string
	// UserTranscript is the transcription of the microphone stream for the
	// current turn, when input transcription is enabled.
	UserTranscript string
	// LastTurn is the full transcript of the most recent completed turn.
	LastTurn string
	// Links are the URLs extracted from the most recent completed turn.
	Links []string
	// Pending is the number of attachments staged for the next Send.
	Pending int
}

// Config carries the engine's connection settings.
type Config struct {
	// APIKey authenticates against the service. Required.
	APIKey string
	// Model overrides the default Live model name.
	Model string
	// BaseURL overrides the service endpoint, used by tests.
	BaseURL string
	// Session is passed through to the live client at connect time.
	Session live.SessionConfig
	// ChunkSamples is the microphone chunk size in samples. 0 selects the
	// capture default.
	ChunkSamples int
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithDevice replaces the default microphone device. Used by tests.
func WithDevice(dev capture.Device) Option {
	return func(e *Engine) { e.dev = dev }
}

// WithSink replaces the default speaker sink. Used by tests.
func WithSink(sink playback.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithClock replaces the wall clock used for playback scheduling and connect
// timing. Used by tests.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clk = clk }
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// outbound queue entries.
type obKind int

const (
	obChunk obKind = iota
	obContent
	obMarker
)

type outbound struct {
	kind  obKind
	pcm   []byte
	parts []live.Part
}

// Engine is the conversation hub. It is safe for concurrent use: the turn
// operations, Send, attachment staging and snapshot accessors may all be
// called while Run is dispatching session events.
type Engine struct {
	client  *live.Client
	sessCfg live.SessionConfig
	metrics *observe.Metrics
	clk     clock.Clock

	dev  capture.Device
	sink playback.Sink

	cap      *capture.Capture
	sched    *playback.Scheduler
	machine  *turn.Machine
	composer *compose.Composer
	model    *transcript.Extractor
	user     *transcript.Extractor

	outbound  chan outbound
	notify    chan Snapshot
	resetCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu       sync.Mutex
	sess     *live.Session
	status   Status
	err      error
	lastTurn string
	links    []string
}

// New creates an Engine. A missing API key is a construction error; there is
// no anonymous access to the service. The engine does not connect until
// [Engine.Run] is called.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("engine: API key is required")
	}

	var clientOpts []live.Option
	if cfg.Model != "" {
		clientOpts = append(clientOpts, live.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, live.WithBaseURL(cfg.BaseURL))
	}

	e := &Engine{
		client:   live.NewClient(cfg.APIKey, clientOpts...),
		sessCfg:  cfg.Session,
		composer: &compose.Composer{},
		model:    &transcript.Extractor{},
		user:     &transcript.Extractor{},
		outbound: make(chan outbound, outboundBuf),
		notify:   make(chan Snapshot, 1),
		resetCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		status:   StatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.clk == nil {
		e.clk = clock.New()
	}

	chunk := cfg.ChunkSamples
	if chunk == 0 {
		chunk = capture.DefaultChunkSamples
	}
	if e.dev == nil {
		e.dev = capture.NewMalgoDevice(audio.CaptureRate, chunk)
	}
	if e.sink == nil {
		sink, err := playback.NewSpeakerSink(audio.PlaybackRate)
		if err != nil {
			return nil, fmt.Errorf("engine: open speaker: %w", err)
		}
		e.sink = sink
	}

	e.sched = playback.NewScheduler(e.sink, audio.PlaybackRate,
		playback.WithClock(e.clk),
		playback.WithOnComplete(e.onUnitDone),
	)
	e.cap = capture.New(e.dev,
		capture.Config{SampleRate: audio.CaptureRate, ChunkSamples: chunk},
		e.listening, e.emitChunk, e.onCaptureError,
	)
	e.machine = turn.New(turn.Hooks{
		StartCapture: e.cap.Start,
		StopCapture:  func() { _ = e.cap.Stop() },
		Mute:         e.cap.Mute,
		Unmute:       e.cap.Unmute,
		EndOfTurn:    e.sendMarker,
	})

	return e, nil
}

// ── session lifecycle ──

// Run connects and dispatches session events until ctx is cancelled or the
// engine is closed. When a session ends, Run parks until [Engine.Reset] asks
// for a new one. Run returns ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess, err := e.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("session connect failed", "err", err)
			e.failPending(ctx, err)
			e.setError(err)
			if !e.awaitReset(ctx) {
				return ctx.Err()
			}
			continue
		}

		e.runSession(ctx, sess)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.awaitReset(ctx) {
			return ctx.Err()
		}
	}
}

// connect dials a session and records the connect latency.
func (e *Engine) connect(ctx context.Context) (*live.Session, error) {
	e.setStatus(StatusConnecting)

	start := e.clk.Now()
	sess, err := e.client.Connect(ctx, e.sessCfg)
	if err != nil {
		return nil, err
	}
	e.metrics.ConnectDuration.Record(ctx, e.clk.Since(start).Seconds())

	e.mu.Lock()
	e.sess = sess
	e.mu.Unlock()
	return sess, nil
}

// runSession drives one session to completion: a writer goroutine drains the
// outbound queue while the event loop dispatches inbound traffic. Returns
// once the session's event channel closes.
func (e *Engine) runSession(ctx context.Context, sess *live.Session) {
	// A Reset issued while the connect was still in flight is satisfied by
	// this session; drop the stale token so a later close does not turn into
	// an automatic reconnect.
	select {
	case <-e.resetCh:
	default:
	}

	writerCtx, stopWriter := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.writeLoop(writerCtx, sess)
	}()

	// The session has its own lifetime; close it when our context ends so
	// the event loop below unblocks.
	eventsDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Close()
		case <-e.done:
			_ = sess.Close()
		case <-eventsDone:
		}
	}()

	for ev := range sess.Events() {
		e.handleEvent(ctx, ev)
	}
	close(eventsDone)

	stopWriter()
	wg.Wait()
	_ = sess.Close()

	e.mu.Lock()
	e.sess = nil
	if err := sess.Err(); err != nil {
		e.status = StatusError
		e.err = err
	} else if e.status != StatusError {
		e.status = StatusClosed
	}
	e.notifyLocked()
	e.mu.Unlock()
}

// writeLoop is the single outbound writer for one session.
func (e *Engine) writeLoop(ctx context.Context, sess *live.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ob := <-e.outbound:
			var (
				op  string
				err error
			)
			switch ob.kind {
			case obChunk:
				op, err = "chunk", sess.SendMediaChunk(ob.pcm)
			case obContent:
				op, err = "content", sess.SendContent(ob.parts)
			case obMarker:
				op, err = "marker", sess.SendTurnComplete()
			}
			if err != nil && !errors.Is(err, live.ErrClosed) {
				e.metrics.RecordSendError(ctx, op)
				slog.Warn("outbound send failed", "op", op, "err", err)
			}
		}
	}
}

// handleEvent dispatches one inbound session event.
func (e *Engine) handleEvent(ctx context.Context, ev live.Event) {
	switch ev := ev.(type) {
	case live.OpenEvent:
		e.mu.Lock()
		e.status = StatusOpen
		e.err = nil
		e.notifyLocked()
		e.mu.Unlock()

	case live.AudioEvent:
		if _, err := e.sched.Enqueue(ev.PCM); err != nil {
			e.metrics.PlaybackDropped.Add(ctx, 1)
			slog.Warn("speech chunk rejected", "err", err)
			return
		}
		e.metrics.PlaybackUnits.Add(ctx, 1)
		e.metrics.ActiveUnits.Add(ctx, 1)

	case live.TranscriptDeltaEvent:
		if ev.Source == live.SourceUser {
			e.user.AppendDelta(ev.Text)
		} else {
			e.model.AppendDelta(ev.Text)
		}
		e.notifyNow()

	case live.TurnCompleteEvent:
		text, links := e.model.Finalize()
		e.user.Reset()
		e.metrics.TurnsCompleted.Add(ctx, 1)

		// Every turn-complete replaces the displayed turn, even an empty
		// one; stale links from an earlier reply must not linger.
		e.mu.Lock()
		e.lastTurn = text
		e.links = links
		e.notifyLocked()
		e.mu.Unlock()

	case live.InterruptedEvent:
		// Barge-in: everything queued but not yet played is stale. The
		// transcript is not; what the model managed to say still counts and
		// surfaces at the next turn-complete.
		n := e.sched.Interrupt()
		e.metrics.Interruptions.Add(ctx, 1)
		if n > 0 {
			e.metrics.ActiveUnits.Add(ctx, int64(-n))
		}
		e.notifyNow()

	case live.ServerErrorEvent:
		slog.Warn("service reported an error", "err", ev.Err)

	case live.CloseEvent:
		slog.Info("session closed", "reason", ev.Reason)
	}
}

// failPending fails the turns and markers queued behind a connect that never
// resolved. Microphone chunks are dropped silently; they are stale anyway.
func (e *Engine) failPending(ctx context.Context, err error) {
	for {
		select {
		case ob := <-e.outbound:
			switch ob.kind {
			case obContent:
				e.metrics.RecordSendError(ctx, "content")
				slog.Warn("queued turn dropped after failed connect", "err", err)
			case obMarker:
				e.metrics.RecordSendError(ctx, "marker")
			}
		default:
			return
		}
	}
}

// awaitReset parks between sessions. Returns false when the engine should
// stop instead of reconnecting.
func (e *Engine) awaitReset(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	case <-e.resetCh:
		return true
	}
}

// Reset discards the current session and conversation state and asks Run to
// connect a fresh session. Safe to call at any time.
func (e *Engine) Reset() {
	e.mu.Lock()
	sess := e.sess
	e.lastTurn = ""
	e.links = nil
	e.mu.Unlock()

	e.model.Reset()
	e.user.Reset()
	if n := e.sched.Interrupt(); n > 0 {
		e.metrics.ActiveUnits.Add(context.Background(), int64(-n))
	}
	if sess != nil {
		_ = sess.Close()
	}
	e.metrics.SessionResets.Add(context.Background(), 1)

	select {
	case e.resetCh <- struct{}{}:
	default:
	}
}

// Close stops the engine: the session is torn down, the microphone released
// and the playback sink closed. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)

		e.mu.Lock()
		sess := e.sess
		e.sess = nil
		if e.status != StatusError {
			e.status = StatusClosed
		}
		e.notifyLocked()
		e.mu.Unlock()

		if sess != nil {
			_ = sess.Close()
		}
		e.machine.Stop()
		e.closeErr = e.sched.Close()
	})
	return e.closeErr
}

// ── turn operations ──

// StartListening opens the microphone and begins streaming chunks. A no-op
// when already listening or locked.
func (e *Engine) StartListening() error {
	err := e.machine.Start()
	e.notifyNow()
	return err
}

// EndTurn mutes the microphone and tells the service the user's turn is over.
// The microphone stays muted until [Engine.ResumeListening].
func (e *Engine) EndTurn() {
	e.machine.Lock()
	e.notifyNow()
}

// ResumeListening unmutes the microphone after [Engine.EndTurn].
func (e *Engine) ResumeListening() {
	e.machine.Resume()
	e.notifyNow()
}

// StopListening tears the microphone down entirely.
func (e *Engine) StopListening() {
	e.machine.Stop()
	e.notifyNow()
}

// ── composed turns ──

// Send transmits a composed turn of text plus any staged attachments. When
// the microphone is live it is muted and the spoken turn closed first.
// Attachments that cannot be read are skipped with a warning; the rest go
// out. Staged attachments are cleared once the turn is queued.
//
// A turn sent before the session is established queues and goes out once the
// connection comes up; it fails only when the connect itself fails or the
// engine is closed.
func (e *Engine) Send(text string) error {
	select {
	case <-e.done:
		return &TransmissionError{Op: "content", Err: live.ErrClosed}
	default:
	}

	e.machine.BeginSend()
	defer func() {
		e.machine.FinishSend()
		e.notifyNow()
	}()

	parts, errs := e.composer.Compose(text)
	for _, err := range errs {
		slog.Warn("attachment skipped", "err", err)
	}
	if len(parts) == 0 {
		return nil
	}

	select {
	case e.outbound <- outbound{kind: obContent, parts: parts}:
	case <-e.done:
		return &TransmissionError{Op: "content", Err: live.ErrClosed}
	}
	e.composer.Clear()
	return nil
}

// AttachFile stages a file for the next [Engine.Send]. The media type is
// derived from the file extension.
func (e *Engine) AttachFile(path string) {
	e.composer.Add(compose.FileAttachment(path, ""))
	e.notifyNow()
}

// Attachments returns the currently staged attachments in send order.
func (e *Engine) Attachments() []compose.Attachment {
	return e.composer.Pending()
}

// RemoveAttachment unstages the attachment at index i. Out-of-range indices
// are ignored.
func (e *Engine) RemoveAttachment(i int) {
	e.composer.Remove(i)
	e.notifyNow()
}

// ClearAttachments unstages everything.
func (e *Engine) ClearAttachments() {
	e.composer.Clear()
	e.notifyNow()
}

// ── state access ──

// State returns the current snapshot.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Notify returns a latest-wins channel of snapshots. A slow consumer only
// ever misses intermediate states, never the newest one.
func (e *Engine) Notify() <-chan Snapshot { return e.notify }

// Ready reports whether a session is open. Shaped to serve as a readiness
// check for the health endpoint.
func (e *Engine) Ready(context.Context) error {
	if e.State().Status != StatusOpen {
		return errors.New("session not open")
	}
	return nil
}

// ── internals ──

// listening is the capture gate: chunks flow only in the Listening state.
func (e *Engine) listening() bool {
	return e.machine.State() == turn.Listening
}

// emitChunk queues one microphone chunk for transmission. Chunks are dropped
// when no session is open or the queue is full; stale audio is not worth
// blocking the capture callback for.
func (e *Engine) emitChunk(pcm []byte) error {
	e.mu.Lock()
	open := e.status == StatusOpen
	e.mu.Unlock()
	if !open {
		return nil
	}

	select {
	case e.outbound <- outbound{kind: obChunk, pcm: pcm}:
		e.metrics.CaptureChunks.Add(context.Background(), 1)
	default:
		e.metrics.CaptureDropped.Add(context.Background(), 1)
	}
	return nil
}

// sendMarker queues an end-of-turn marker. Markers must not be lost, so this
// blocks until queued or the engine closes.
func (e *Engine) sendMarker() {
	select {
	case e.outbound <- outbound{kind: obMarker}:
	case <-e.done:
	}
}

func (e *Engine) onCaptureError(err error) {
	slog.Warn("capture emit failed", "err", err)
}

// onUnitDone runs when a scheduled playback unit finishes.
func (e *Engine) onUnitDone(playback.Unit) {
	e.metrics.ActiveUnits.Add(context.Background(), -1)
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Status:         e.status,
		Err:            e.err,
		Turn:           e.machine.State(),
		Transcript:     e.model.Current(),
		UserTranscript: e.user.Current(),
		LastTurn:       e.lastTurn,
		Links:          slices.Clone(e.links),
		Pending:        e.composer.Len(),
	}
}

// notifyLocked pushes the current snapshot onto the notify channel, replacing
// any undelivered one. Callers must hold e.mu.
func (e *Engine) notifyLocked() {
	s := e.snapshotLocked()
	select {
	case e.notify <- s:
		return
	default:
	}
	select {
	case <-e.notify:
	default:
	}
	select {
	case e.notify <- s:
	default:
	}
}

func (e *Engine) notifyNow() {
	e.mu.Lock()
	e.notifyLocked()
	e.mu.Unlock()
}

func (e *Engine) setStatus(st Status) {
	e.mu.Lock()
	e.status = st
	e.notifyLocked()
	e.mu.Unlock()
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	e.status = StatusError
	e.err = err
	e.notifyLocked()
	e.mu.Unlock()
}
