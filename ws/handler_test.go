package ws

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"livetrans/session"
	"livetrans/stt"
	"livetrans/translate"
)

type fixture struct {
	backend  *stt.StubRecognition
	registry *session.Registry
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(os.Stderr)
	backend := stt.NewStubRecognition()
	registry := session.NewRegistry(
		backend,
		&translate.StubTranslator{Dictionary: map[string]string{"hello": "hola"}},
		nil,
		session.Config{SourceLanguage: "si", TargetLanguage: "en", StopGrace: 200 * time.Millisecond},
		logger,
	)
	srv := httptest.NewServer(NewHandler(registry, logger))
	t.Cleanup(srv.Close)
	return &fixture{backend: backend, registry: registry, server: srv}
}

func (f *fixture) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if sessionID != "" {
		url += "?session=" + sessionID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) session.OutboundEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev session.OutboundEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func writeControl(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": typ}); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

func TestRoundTripOverWebSocket(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "call-42")

	writeControl(t, conn, "start_transcription")
	if ev := readEvent(t, conn); ev.Type != session.EventTranscriptionStarted {
		t.Fatalf("event = %+v, want transcription_started", ev)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	rec := f.backend.WaitStream(1)
	rec.Emit(stt.Result{Text: "hello", Final: true})

	ev := readEvent(t, conn)
	if ev.Type != session.EventFinalResult {
		t.Fatalf("event = %+v, want final_result", ev)
	}
	if ev.Original.Text != "hello" || ev.Translated.Text != "hola" {
		t.Errorf("result = original %+v translated %+v", ev.Original, ev.Translated)
	}
	if ev.SessionID != "call-42" {
		t.Errorf("session_id = %q", ev.SessionID)
	}

	writeControl(t, conn, "stop_transcription")
	if ev := readEvent(t, conn); ev.Type != session.EventTranscriptionStopped {
		t.Fatalf("event = %+v, want transcription_stopped", ev)
	}
}

func TestMalformedControlKeepsConnectionOpen(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != session.EventError {
		t.Fatalf("event = %+v, want error", ev)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != session.EventError {
		t.Fatalf("event = %+v, want error", ev)
	}

	// The connection is still good for real control messages.
	writeControl(t, conn, "start_transcription")
	if ev := readEvent(t, conn); ev.Type != session.EventTranscriptionStarted {
		t.Fatalf("event = %+v, want transcription_started", ev)
	}
}

func TestInvalidAudioFrameReported(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")

	writeControl(t, conn, "start_transcription")
	readEvent(t, conn) // started

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != session.EventError {
		t.Fatalf("event = %+v, want error", ev)
	}

	// Session is still listening; a valid final still comes through.
	rec := f.backend.WaitStream(1)
	rec.Emit(stt.Result{Text: "still here", Final: true})
	if ev := readEvent(t, conn); ev.Type != session.EventFinalResult {
		t.Fatalf("event = %+v, want final_result", ev)
	}
}

func TestDuplicateSessionRejected(t *testing.T) {
	f := newFixture(t)
	f.dial(t, "dup")

	conn := f.dial(t, "dup")
	if ev := readEvent(t, conn); ev.Type != session.EventError {
		t.Fatalf("event = %+v, want error", ev)
	}
	// The server closes the rejected connection.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected rejected connection to close")
	}
}

func TestSessionDiesWithConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "ephemeral")

	writeControl(t, conn, "start_transcription")
	readEvent(t, conn)

	if _, err := f.registry.Get("ephemeral"); err != nil {
		t.Fatalf("session not registered: %v", err)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := f.registry.Get("ephemeral"); err != nil {
			return // removed, as intended
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session survived its connection")
}
