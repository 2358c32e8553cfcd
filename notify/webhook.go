package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"livetrans/session"
)

const deliverTimeout = 10 * time.Second

// WebhookSink delivers each final result to a messaging webhook as an
// Adaptive Card. Delivery is fire-and-forget on a background worker so
// a slow receiver never backs up into the transcription pipeline.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *log.Logger

	queue  chan session.FinalResult
	done   chan struct{}
	closed sync.Once
}

func NewWebhookSink(url string, logger *log.Logger) *WebhookSink {
	w := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: deliverTimeout},
		log:    logger,
		queue:  make(chan session.FinalResult, 128),
		done:   make(chan struct{}),
	}
	go w.deliverLoop()
	return w
}

// Notify implements session.Sink.
func (w *WebhookSink) Notify(result session.FinalResult) {
	select {
	case w.queue <- result:
	default:
		w.log.Warn("webhook queue full, dropping result",
			"session", result.SessionID)
	}
}

func (w *WebhookSink) deliverLoop() {
	defer close(w.done)
	for result := range w.queue {
		if err := w.deliver(result); err != nil {
			w.log.Error("webhook delivery failed", "error", err,
				"session", result.SessionID)
		}
	}
}

func (w *WebhookSink) deliver(result session.FinalResult) error {
	body, err := json.Marshal(adaptiveCard(result))
	if err != nil {
		return fmt.Errorf("encode card: %w", err)
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func adaptiveCard(result session.FinalResult) map[string]any {
	textBlock := func(text string, extra map[string]any) map[string]any {
		block := map[string]any{"type": "TextBlock", "text": text, "wrap": true}
		for k, v := range extra {
			block[k] = v
		}
		return block
	}

	translated := result.Translated.Text
	if result.TranslationFailed {
		translated = "(translation unavailable)"
	}

	return map[string]any{
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body": []map[string]any{
			textBlock("Live Transcription", map[string]any{
				"weight": "bolder", "size": "medium", "wrap": false,
			}),
			textBlock(fmt.Sprintf("**Original (%s):** %s",
				result.Original.Language, result.Original.Text), nil),
			textBlock(fmt.Sprintf("**Translation (%s):** %s",
				result.Translated.Language, translated), nil),
			textBlock(fmt.Sprintf("Time: %s",
				result.Timestamp.UTC().Format(time.RFC3339)), map[string]any{
				"size": "small", "color": "accent",
			}),
		},
	}
}

// Close drains the delivery queue and stops the worker.
func (w *WebhookSink) Close() {
	w.closed.Do(func() {
		close(w.queue)
	})
	<-w.done
}
