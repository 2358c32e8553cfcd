package stt

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"livetrans/audio"
)

type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	// EventDegraded signals a transient backend failure that the adapter
	// is recovering from internally.
	EventDegraded
	// EventFailed signals that retries are exhausted or the backend shut
	// the stream down for good. It is the last event on the channel.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventDegraded:
		return "degraded"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one entry in the adapter's lazy recognition sequence.
type Event struct {
	Kind       EventKind
	Text       string
	Confidence float64
	Seq        int
	Err        error
}

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Adapter drives one speech recognition backend over a frame buffer and
// turns it into an ordered event sequence. Transient backend failures are
// retried with backoff and surfaced only as EventDegraded; exhaustion
// surfaces as EventFailed. At most one adapter may consume a given
// buffer.
type Adapter struct {
	backend  SpeechRecognition
	language string
	log      *log.Logger

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewAdapter(backend SpeechRecognition, language string, logger *log.Logger) *Adapter {
	return &Adapter{
		backend:        backend,
		language:       language,
		log:            logger,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// Run starts recognition over the buffer and returns the event channel.
// The channel is closed when the buffer reaches end-of-stream and the
// backend has flushed its in-flight utterance, when the context is
// cancelled, or after an EventFailed.
func (a *Adapter) Run(ctx context.Context, buf *audio.FrameBuffer) <-chan Event {
	events := make(chan Event)
	go a.loop(ctx, buf, events)
	return events
}

func (a *Adapter) loop(ctx context.Context, buf *audio.FrameBuffer, events chan<- Event) {
	defer close(events)

	var seq int
	retries := 0
	backoff := a.initialBackoff

	for {
		rec, err := a.backend.Start(ctx, a.language)
		if err == nil {
			var done bool
			before := seq
			seq, err, done = a.pump(ctx, buf, rec, events, seq)
			if done {
				return
			}
			if seq > before {
				// A stream that made progress starts retrying from scratch.
				retries = 0
				backoff = a.initialBackoff
			}
		}

		if ctx.Err() != nil {
			return
		}

		if retries >= a.maxRetries {
			a.log.Error("recognition failed", "error", err, "retries", retries)
			a.emit(ctx, events, Event{Kind: EventFailed, Err: err})
			return
		}

		retries++
		a.log.Warn("recognition degraded, retrying",
			"error", err, "attempt", retries, "backoff", backoff)
		if !a.emit(ctx, events, Event{Kind: EventDegraded, Err: err}) {
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > a.maxBackoff {
			backoff = a.maxBackoff
		}
	}
}

// pump feeds frames into one backend stream and relays its results.
// done is true when the sequence is finished for good: clean end of
// stream or context cancellation. Otherwise err says why the stream
// broke and the caller decides whether to retry.
func (a *Adapter) pump(
	ctx context.Context,
	buf *audio.FrameBuffer,
	rec SpeechRecognizer,
	events chan<- Event,
	seq int,
) (int, error, bool) {
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		for {
			frame, err := buf.Next(feedCtx)
			if err == io.EOF {
				if err := rec.Stop(); err != nil {
					a.log.Warn("stop recognizer", "error", err)
				}
				return
			}
			if err != nil {
				return
			}
			if err := rec.SendAudio(frame); err != nil {
				a.log.Warn("send audio", "error", err)
				return
			}
		}
	}()

results:
	for {
		select {
		case res, ok := <-rec.Results():
			if !ok {
				break results
			}
			seq++
			kind := EventPartial
			if res.Final {
				kind = EventFinal
			}
			ev := Event{Kind: kind, Text: res.Text, Confidence: res.Confidence, Seq: seq}
			if !a.emit(ctx, events, ev) {
				break results
			}
		case <-ctx.Done():
			break results
		}
	}

	cancelFeed()
	<-feedDone

	if ctx.Err() != nil {
		if err := rec.Stop(); err != nil {
			a.log.Warn("stop recognizer", "error", err)
		}
		return seq, ctx.Err(), true
	}

	if err := rec.Err(); err != nil {
		return seq, err, false
	}
	if buf.Closed() {
		// Backend flushed everything after end-of-stream.
		return seq, nil, true
	}
	// Backend ended the stream while audio is still flowing; treat as a
	// transient disconnect.
	return seq, io.ErrUnexpectedEOF, false
}

func (a *Adapter) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
