package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

// DeepgramClient implements SpeechRecognition over the Deepgram live
// transcription API for raw PCM16 mono audio.
type DeepgramClient struct {
	token      string
	sampleRate int
	logger     *log.Logger
}

func NewDeepgramClient(token string, sampleRate int, logger *log.Logger) (*DeepgramClient, error) {
	if token == "" {
		return nil, fmt.Errorf("deepgram token is required")
	}
	return &DeepgramClient{
		token:      token,
		sampleRate: sampleRate,
		logger:     logger,
	}, nil
}

func (c *DeepgramClient) Start(
	ctx context.Context,
	language string,
) (SpeechRecognizer, error) {
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          "nova-2",
		Language:       language,
		Punctuate:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     c.sampleRate,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
	}

	session := &DeepgramSession{
		results:     make(chan Result, 32),
		logger:      c.logger,
		audioBuffer: make(chan []byte, 100),
	}

	client, err := listen.NewWebSocket(
		ctx,
		c.token,
		cOptions,
		tOptions,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"error creating live transcription connection: %w",
			err,
		)
	}

	session.client = client

	go session.client.Connect()

	return session, nil
}

// DeepgramSession is one live stream. It implements both SpeechRecognizer
// and the Deepgram SDK callback interface.
type DeepgramSession struct {
	client      *listen.LiveClient
	results     chan Result
	logger      *log.Logger
	audioBuffer chan []byte

	mu      sync.Mutex
	err     error
	stopped bool
	closed  bool
}

func (s *DeepgramSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.audioBuffer)
	s.client.Stop()
	return nil
}

func (s *DeepgramSession) SendAudio(data []byte) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("recognizer stopped")
	}
	s.mu.Unlock()

	select {
	case s.audioBuffer <- data:
		return nil
	default:
		return fmt.Errorf("audio buffer full")
	}
}

func (s *DeepgramSession) Results() <-chan Result {
	return s.results
}

func (s *DeepgramSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *DeepgramSession) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err != nil && s.err == nil {
		s.err = err
	}
	close(s.results)
}

// Open starts pumping buffered audio once the socket is up.
func (s *DeepgramSession) Open(ocr *api.OpenResponse) error {
	s.logger.Info("open", "kind", "deepgram")
	go func() {
		for data := range s.audioBuffer {
			if err := s.client.WriteBinary(data); err != nil {
				s.logger.Error("failed to write audio data", "error", err)
			}
		}
	}()
	return nil
}

func (s *DeepgramSession) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if len(transcript) == 0 {
		return nil
	}

	s.logger.Debug("hear",
		"txt", transcript,
		"final", mr.IsFinal,
		"start", mr.Start,
		"duration", mr.Duration,
	)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.results <- Result{
		Text:       transcript,
		Confidence: mr.Channel.Alternatives[0].Confidence,
		Final:      mr.IsFinal,
	}
	return nil
}

func (s *DeepgramSession) Close(ocr *api.CloseResponse) error {
	s.logger.Info("closed", "reason", ocr.Type)
	s.finish(nil)
	return nil
}

func (s *DeepgramSession) Metadata(md *api.MetadataResponse) error {
	s.logger.Debug("metadata", "request_id", md.RequestID)
	return nil
}

func (s *DeepgramSession) SpeechStarted(ssr *api.SpeechStartedResponse) error {
	s.logger.Debug("speech start", "timestamp", ssr.Timestamp)
	return nil
}

func (s *DeepgramSession) UtteranceEnd(ur *api.UtteranceEndResponse) error {
	s.logger.Debug("utterance end", "timestamp", ur.LastWordEnd)
	return nil
}

func (s *DeepgramSession) Error(er *api.ErrorResponse) error {
	s.logger.Error("error", "type", er.Type, "description", er.Description)
	s.finish(fmt.Errorf("deepgram: %s: %s", er.Type, er.Description))
	return nil
}

func (s *DeepgramSession) UnhandledEvent(byData []byte) error {
	s.logger.Warn("unhandled event", "data", string(byData))
	return nil
}
