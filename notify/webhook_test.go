package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"livetrans/session"
)

func TestWebhookDeliversAdaptiveCard(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- payload
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, log.New(os.Stderr))
	defer sink.Close()

	sink.Notify(session.FinalResult{
		SessionID:  "call-9",
		Timestamp:  time.Now(),
		Original:   session.Text{Text: "ආයුබෝවන්", Language: "si"},
		Translated: session.Text{Text: "hello", Language: "en"},
	})

	select {
	case payload := <-received:
		if payload["type"] != "AdaptiveCard" {
			t.Errorf("payload type = %v", payload["type"])
		}
		body, _ := json.Marshal(payload)
		if !strings.Contains(string(body), "ආයුබෝවන්") ||
			!strings.Contains(string(body), "hello") {
			t.Errorf("card missing texts: %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called")
	}
}

func TestWebhookTranslationFailedPlaceholder(t *testing.T) {
	card := adaptiveCard(session.FinalResult{
		Original:          session.Text{Text: "text", Language: "si"},
		Translated:        session.Text{Language: "en"},
		TranslationFailed: true,
	})
	body, _ := json.Marshal(card)
	if !strings.Contains(string(body), "(translation unavailable)") {
		t.Errorf("card = %s, want unavailable placeholder", body)
	}
}

type countingSink struct{ n int }

func (c *countingSink) Notify(session.FinalResult) { c.n++ }

func TestFanout(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	Fanout{a, b}.Notify(session.FinalResult{})
	if a.n != 1 || b.n != 1 {
		t.Errorf("fanout counts = %d, %d", a.n, b.n)
	}
}
