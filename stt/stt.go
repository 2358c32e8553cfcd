package stt

import (
	"context"
)

// Result is one recognition hypothesis from a backend. Non-final results
// are provisional and superseded by the next result for the same
// utterance; a final result terminates the utterance.
type Result struct {
	Text       string
	Confidence float64
	Final      bool
}

// SpeechRecognizer is one live recognition stream. Results is closed when
// the stream ends; Err reports why, nil meaning a clean end-of-stream.
type SpeechRecognizer interface {
	SendAudio(data []byte) error
	Stop() error
	Results() <-chan Result
	Err() error
}

// SpeechRecognition is the streaming speech recognition capability.
type SpeechRecognition interface {
	Start(ctx context.Context, language string) (SpeechRecognizer, error)
}
