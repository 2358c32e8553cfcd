package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"livetrans/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path, log.New(os.Stderr))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func result(sessionID, original, translated string) session.FinalResult {
	return session.FinalResult{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Original:  session.Text{Text: original, Language: "si"},
		Translated: session.Text{
			Text:     translated,
			Language: "en",
		},
	}
}

func waitArchived(t *testing.T, s *Store, sessionID string, want int) []session.FinalResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.SessionResults(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("SessionResults: %v", err)
		}
		if len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %d archived results for %s", want, sessionID)
	return nil
}

func TestArchiveAndQuery(t *testing.T) {
	s := openTestStore(t)

	s.Notify(result("call-1", "one", "eka"))
	s.Notify(result("call-1", "two", "deka"))
	s.Notify(result("call-2", "other", "wena"))

	got := waitArchived(t, s, "call-1", 2)
	if got[0].Original.Text != "one" || got[1].Original.Text != "two" {
		t.Errorf("arrival order lost: %+v", got)
	}
	if got[0].Translated.Language != "en" || got[0].Original.Language != "si" {
		t.Errorf("languages = %+v", got[0])
	}

	other := waitArchived(t, s, "call-2", 1)
	if other[0].Original.Text != "other" {
		t.Errorf("call-2 results = %+v", other)
	}
}

func TestTranslationFailedFlagSurvives(t *testing.T) {
	s := openTestStore(t)

	r := result("call-3", "utterance", "")
	r.TranslationFailed = true
	s.Notify(r)

	got := waitArchived(t, s, "call-3", 1)
	if !got[0].TranslationFailed || got[0].Translated.Text != "" {
		t.Errorf("archived = %+v, want translation-failed entry", got[0])
	}
}

func TestRecent(t *testing.T) {
	s := openTestStore(t)

	s.Notify(result("call-4", "first", "t1"))
	s.Notify(result("call-4", "second", "t2"))
	waitArchived(t, s, "call-4", 2)

	got, err := s.Recent(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Original.Text != "second" {
		t.Errorf("Recent = %+v, want the newest entry", got)
	}
}
