package stt

import (
	"context"
	"sync"
	"time"
)

// StubRecognition is a scriptable SpeechRecognition implementation for
// tests. Each Start produces a StubRecognizer whose results are driven
// explicitly via Emit/Finish/Fail.
type StubRecognition struct {
	mu       sync.Mutex
	streams  []*StubRecognizer
	startErr error

	// HoldOpenOnStop keeps the result channel open after Stop so tests
	// can emit an in-flight final before calling Finish.
	HoldOpenOnStop bool

	// AlwaysFailStart, when set, makes every Start call fail.
	AlwaysFailStart error
}

func NewStubRecognition() *StubRecognition {
	return &StubRecognition{}
}

// FailNextStart makes the next Start call return err.
func (s *StubRecognition) FailNextStart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

func (s *StubRecognition) Start(ctx context.Context, language string) (SpeechRecognizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AlwaysFailStart != nil {
		return nil, s.AlwaysFailStart
	}
	if s.startErr != nil {
		err := s.startErr
		s.startErr = nil
		return nil, err
	}
	rec := &StubRecognizer{
		results:        make(chan Result, 32),
		language:       language,
		holdOpenOnStop: s.HoldOpenOnStop,
	}
	s.streams = append(s.streams, rec)
	return rec, nil
}

// Streams returns every recognizer started so far.
func (s *StubRecognition) Streams() []*StubRecognizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*StubRecognizer(nil), s.streams...)
}

// WaitStream blocks until at least n streams have been started and
// returns the latest one.
func (s *StubRecognition) WaitStream(n int) *StubRecognizer {
	for {
		s.mu.Lock()
		if len(s.streams) >= n {
			rec := s.streams[len(s.streams)-1]
			s.mu.Unlock()
			return rec
		}
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

type StubRecognizer struct {
	results        chan Result
	language       string
	holdOpenOnStop bool

	mu       sync.Mutex
	audio    [][]byte
	err      error
	finished bool
	stopped  bool
}

func (r *StubRecognizer) SendAudio(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	r.audio = append(r.audio, buf)
	return nil
}

func (r *StubRecognizer) Stop() error {
	r.mu.Lock()
	r.stopped = true
	hold := r.holdOpenOnStop
	r.mu.Unlock()
	if !hold {
		r.Finish()
	}
	return nil
}

func (r *StubRecognizer) Results() <-chan Result {
	return r.results
}

func (r *StubRecognizer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Emit pushes one scripted result to the consumer.
func (r *StubRecognizer) Emit(res Result) {
	r.results <- res
}

// Finish ends the stream cleanly.
func (r *StubRecognizer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	close(r.results)
}

// Fail ends the stream with a backend error.
func (r *StubRecognizer) Fail(err error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.err = err
	r.mu.Unlock()
	close(r.results)
}

// Audio returns the frames received so far.
func (r *StubRecognizer) Audio() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.audio...)
}

// Stopped reports whether Stop has been called.
func (r *StubRecognizer) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Language returns the language the stream was started with.
func (r *StubRecognizer) Language() string {
	return r.language
}
