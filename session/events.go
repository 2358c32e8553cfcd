package session

import (
	"time"
)

// Outbound event types, serialized verbatim onto the client connection.
const (
	EventTranscriptionStarted = "transcription_started"
	EventPartialResult        = "partial_result"
	EventFinalResult          = "final_result"
	EventTranscriptionStopped = "transcription_stopped"
	EventError                = "error"
)

// TextPayload is one side of a final result on the wire.
type TextPayload struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// OutboundEvent is a single frame destined for the client. Fields are
// populated per event type; zero fields are omitted from the JSON.
type OutboundEvent struct {
	Type              string       `json:"type"`
	Text              string       `json:"text,omitempty"`
	Message           string       `json:"message,omitempty"`
	Timestamp         string       `json:"timestamp,omitempty"`
	Original          *TextPayload `json:"original,omitempty"`
	Translated        *TextPayload `json:"translated,omitempty"`
	SessionID         string       `json:"session_id,omitempty"`
	TranslationFailed bool         `json:"translation_failed,omitempty"`
}

// Text is a piece of text tagged with its language.
type Text struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// FinalResult is the durable unit of transcription: one finalized
// utterance with its translation. Immutable once constructed.
type FinalResult struct {
	SessionID         string    `json:"session_id"`
	Timestamp         time.Time `json:"timestamp"`
	Original          Text      `json:"original"`
	Translated        Text      `json:"translated"`
	TranslationFailed bool      `json:"translation_failed,omitempty"`
}

func (r FinalResult) outbound() OutboundEvent {
	return OutboundEvent{
		Type:              EventFinalResult,
		Timestamp:         r.Timestamp.UTC().Format(time.RFC3339Nano),
		Original:          &TextPayload{Text: r.Original.Text, Language: r.Original.Language},
		Translated:        &TextPayload{Text: r.Translated.Text, Language: r.Translated.Language},
		SessionID:         r.SessionID,
		TranslationFailed: r.TranslationFailed,
	}
}

// Sink receives every FinalResult for external delivery. Implementations
// must not block; the session fires and forgets.
type Sink interface {
	Notify(result FinalResult)
}
