package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/charmbracelet/log"
)

func TestAzureTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("path = %q, want /translate", r.URL.Path)
		}
		if got := r.URL.Query().Get("from"); got != "si" {
			t.Errorf("from = %q, want si", got)
		}
		if got := r.URL.Query().Get("to"); got != "en" {
			t.Errorf("to = %q, want en", got)
		}
		if got := r.Header.Get("Ocp-Apim-Subscription-Key"); got != "secret" {
			t.Errorf("subscription key = %q, want secret", got)
		}

		var reqs []azureTranslateRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(reqs) != 1 || reqs[0].Text != "ආයුබෝවන්" {
			t.Errorf("request body = %+v", reqs)
		}

		json.NewEncoder(w).Encode([]map[string]any{
			{"translations": []map[string]string{{"text": "hello", "to": "en"}}},
		})
	}))
	defer srv.Close()

	c := NewAzureClient("secret", "westeurope", log.New(os.Stderr))
	c.Endpoint = srv.URL

	got, err := c.Translate(context.Background(), "ආයුබෝවන්", "si", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "hello" {
		t.Errorf("Translate = %q, want hello", got)
	}
}

func TestAzureTranslateBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewAzureClient("secret", "", log.New(os.Stderr))
	c.Endpoint = srv.URL

	if _, err := c.Translate(context.Background(), "text", "si", "en"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Translate = %v, want ErrUnavailable", err)
	}
}

func TestAzureTranslateEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewAzureClient("secret", "", log.New(os.Stderr))
	c.Endpoint = srv.URL

	if _, err := c.Translate(context.Background(), "text", "si", "en"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Translate = %v, want ErrUnavailable", err)
	}
}
