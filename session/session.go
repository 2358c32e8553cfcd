package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"livetrans/audio"
	"livetrans/stt"
	"livetrans/translate"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotListening is returned by FeedAudio outside the Listening state.
	ErrNotListening = errors.New("session is not listening")

	// ErrClosed is returned for operations on a torn-down session.
	ErrClosed = errors.New("session closed")
)

// Config carries per-session tunables. Zero values fall back to defaults.
type Config struct {
	SourceLanguage   string
	TargetLanguage   string
	MaxFrameBytes    int
	BacklogFrames    int
	StopGrace        time.Duration
	TranslateTimeout time.Duration
}

const (
	defaultStopGrace        = 5 * time.Second
	defaultTranslateTimeout = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SourceLanguage == "" {
		c.SourceLanguage = "si"
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = "en"
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	if c.TranslateTimeout <= 0 {
		c.TranslateTimeout = defaultTranslateTimeout
	}
	return c
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdError
)

type command struct {
	kind    commandKind
	message string
}

// Session owns one audio frame buffer and one recognition adapter, and
// runs the partial → final → translate pipeline on a single event loop
// goroutine. All state transitions happen on that loop, in the order
// commands and recognition events arrive.
type Session struct {
	ID string

	cfg         Config
	recognition stt.SpeechRecognition
	translator  translate.Translator
	sink        Sink
	log         *log.Logger

	cmds chan command
	out  chan OutboundEvent

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	closeOnce sync.Once

	mu           sync.Mutex
	state        State
	transcript   []FinalResult
	createdAt    time.Time
	lastActivity time.Time
	buf          *audio.FrameBuffer
}

func newSession(
	id string,
	recognition stt.SpeechRecognition,
	translator translate.Translator,
	sink Sink,
	cfg Config,
	logger *log.Logger,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		ID:           id,
		cfg:          cfg.withDefaults(),
		recognition:  recognition,
		translator:   translator,
		sink:         sink,
		log:          logger.With("session", id),
		cmds:         make(chan command, 16),
		out:          make(chan OutboundEvent, 64),
		ctx:          ctx,
		cancel:       cancel,
		loopDone:     make(chan struct{}),
		state:        StateIdle,
		createdAt:    now,
		lastActivity: now,
	}
	go s.run()
	return s
}

// Events is the ordered outbound event stream for this session. The
// channel is closed when the session is torn down.
func (s *Session) Events() <-chan OutboundEvent {
	return s.out
}

// Start requests the Idle → Listening transition.
func (s *Session) Start() error {
	return s.send(command{kind: cmdStart})
}

// Stop requests the Listening → Stopping transition. The in-flight
// utterance is still finalized (and translated) before
// transcription_stopped is emitted.
func (s *Session) Stop() error {
	return s.send(command{kind: cmdStop})
}

// EmitError queues a structured error event for the client without
// affecting session state. Used by the connection layer for malformed
// control messages.
func (s *Session) EmitError(message string) error {
	return s.send(command{kind: cmdError, message: message})
}

func (s *Session) send(cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// FeedAudio pushes one raw PCM16 frame. Frames are accepted only while
// Listening; the push blocks under backpressure rather than dropping
// audio.
func (s *Session) FeedAudio(frame []byte) error {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		if s.State() == StateClosed {
			return ErrClosed
		}
		return ErrNotListening
	}
	buf := s.buf
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return buf.Push(frame)
}

// Close tears the session down unconditionally from any state. Resources
// are released and no further events are emitted. Close is idempotent
// and returns once the event loop has exited.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.loopDone
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the session's externally visible
// state, served on the query surface.
type Snapshot struct {
	ID             string        `json:"session_id"`
	State          string        `json:"state"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivity   time.Time     `json:"last_activity"`
	Transcriptions []FinalResult `json:"transcriptions"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:             s.ID,
		State:          s.state.String(),
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		Transcriptions: append([]FinalResult(nil), s.transcript...),
	}
}

// IdleSince reports the last activity timestamp, used by the registry
// sweep.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// run is the session event loop. It is the only goroutine that mutates
// session state or writes to the outbound channel, which is what keeps
// a stop command from racing an in-flight final event.
func (s *Session) run() {
	defer close(s.loopDone)
	defer close(s.out)

	var (
		events      <-chan stt.Event
		recogCancel context.CancelFunc
		graceTimer  *time.Timer
		graceC      <-chan time.Time
	)

	cleanupRecognition := func() {
		if recogCancel != nil {
			recogCancel()
			recogCancel = nil
		}
		events = nil
		if graceTimer != nil {
			graceTimer.Stop()
			graceTimer = nil
			graceC = nil
		}
		s.mu.Lock()
		if s.buf != nil {
			s.buf.Close()
			s.buf = nil
		}
		s.mu.Unlock()
	}

	defer func() {
		cleanupRecognition()
		s.setState(StateClosed)
		s.log.Info("session closed")
	}()

	for {
		select {
		case <-s.ctx.Done():
			return

		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdStart:
				if s.State() != StateIdle {
					s.emit(OutboundEvent{
						Type:    EventError,
						Message: "transcription already started",
					})
					continue
				}
				buf := audio.NewFrameBuffer(s.cfg.MaxFrameBytes, s.cfg.BacklogFrames)
				adapter := stt.NewAdapter(s.recognition, s.cfg.SourceLanguage, s.log)
				recogCtx, cancel := context.WithCancel(s.ctx)
				recogCancel = cancel
				events = adapter.Run(recogCtx, buf)

				s.mu.Lock()
				s.buf = buf
				s.state = StateListening
				s.lastActivity = time.Now()
				s.mu.Unlock()

				s.log.Info("transcription started",
					"source", s.cfg.SourceLanguage,
					"target", s.cfg.TargetLanguage)
				s.emit(OutboundEvent{Type: EventTranscriptionStarted})

			case cmdStop:
				if s.State() != StateListening {
					s.log.Debug("stop ignored", "state", s.State())
					continue
				}
				s.beginStopping(&graceTimer, &graceC)

			case cmdError:
				s.emit(OutboundEvent{Type: EventError, Message: cmd.message})
			}

		case ev, ok := <-events:
			if !ok {
				// Adapter sequence fully drained.
				cleanupRecognition()
				if st := s.State(); st == StateListening || st == StateStopping {
					s.setState(StateIdle)
					s.emit(OutboundEvent{Type: EventTranscriptionStopped})
					s.log.Info("transcription stopped")
				}
				continue
			}
			s.handleRecognitionEvent(ev, &graceTimer, &graceC)

		case <-graceC:
			// The adapter did not drain within the grace period; cut it
			// loose. The stopped event goes out when its channel closes.
			s.log.Warn("stop grace period elapsed, cancelling recognizer")
			if recogCancel != nil {
				recogCancel()
			}
			graceC = nil
		}
	}
}

func (s *Session) beginStopping(graceTimer **time.Timer, graceC *<-chan time.Time) {
	s.setState(StateStopping)
	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()
	if buf != nil {
		buf.Close()
	}
	*graceTimer = time.NewTimer(s.cfg.StopGrace)
	*graceC = (*graceTimer).C
	s.log.Info("stopping, waiting for in-flight utterance")
}

func (s *Session) handleRecognitionEvent(
	ev stt.Event,
	graceTimer **time.Timer,
	graceC *<-chan time.Time,
) {
	switch ev.Kind {
	case stt.EventPartial:
		// Each partial supersedes the previous one for the current
		// utterance; nothing is stored.
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.emit(OutboundEvent{Type: EventPartialResult, Text: ev.Text})

	case stt.EventFinal:
		s.finalize(ev)

	case stt.EventDegraded:
		s.log.Warn("recognition degraded", "error", ev.Err)

	case stt.EventFailed:
		s.log.Error("recognition failed", "error", ev.Err)
		s.emit(OutboundEvent{
			Type:    EventError,
			Message: "speech recognition failed",
		})
		if s.State() == StateListening {
			s.beginStopping(graceTimer, graceC)
		}
	}
}

// finalize turns one final recognition event into a FinalResult:
// translate once, append to the transcript, emit outward, notify sinks.
// Translation failure degrades to an empty translated text; the
// transcription itself is never dropped.
func (s *Session) finalize(ev stt.Event) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.TranslateTimeout)
	translated, err := s.translator.Translate(
		ctx, ev.Text, s.cfg.SourceLanguage, s.cfg.TargetLanguage,
	)
	cancel()

	result := FinalResult{
		SessionID: s.ID,
		Timestamp: time.Now(),
		Original:  Text{Text: ev.Text, Language: s.cfg.SourceLanguage},
		Translated: Text{
			Text:     translated,
			Language: s.cfg.TargetLanguage,
		},
	}
	if err != nil {
		s.log.Error("translation unavailable", "error", err, "text", ev.Text)
		result.Translated.Text = ""
		result.TranslationFailed = true
	}

	s.mu.Lock()
	s.transcript = append(s.transcript, result)
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.log.Info("final",
		"txt", result.Original.Text,
		"xlat", result.Translated.Text,
		"confidence", ev.Confidence)

	s.emit(result.outbound())

	if s.sink != nil {
		s.sink.Notify(result)
	}
}

func (s *Session) emit(ev OutboundEvent) {
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
	}
}
