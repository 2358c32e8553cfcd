package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"livetrans/audio"
	"livetrans/session"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// controlMessage is an inbound JSON control frame.
type controlMessage struct {
	Type string `json:"type"`
}

const (
	controlStart = "start_transcription"
	controlStop  = "stop_transcription"
)

// Handler terminates one persistent WebSocket per client. Text frames
// are control messages, binary frames are raw PCM16 audio; outbound
// session events are serialized back in emission order. A session lives
// and dies with its connection.
type Handler struct {
	registry *session.Registry
	log      *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(registry *session.Registry, logger *log.Logger) *Handler {
	return &Handler{
		registry: registry,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 8 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess, err := h.registry.Create(r.URL.Query().Get("session"))
	if err != nil {
		h.log.Warn("session create rejected", "error", err)
		h.writeEvent(conn, session.OutboundEvent{
			Type:    session.EventError,
			Message: err.Error(),
		})
		return
	}
	defer h.registry.Remove(sess.ID)

	h.log.Info("connection open", "session", sess.ID, "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go h.writeLoop(conn, sess, writerDone)

	h.readLoop(conn, sess)

	// Socket gone: tear the session down (the deferred Remove) and wait
	// for the writer so we never write to a closed connection.
	h.registry.Remove(sess.ID)
	conn.Close()
	<-writerDone

	h.log.Info("connection closed", "session", sess.ID)
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *session.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("read failed", "session", sess.ID, "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			h.handleControl(sess, data)
		case websocket.BinaryMessage:
			if err := h.feedAudio(sess, data); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleControl(sess *session.Session, data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Warn("malformed control message", "session", sess.ID, "error", err)
		sess.EmitError("malformed control message")
		return
	}

	var err error
	switch msg.Type {
	case controlStart:
		err = sess.Start()
	case controlStop:
		err = sess.Stop()
	default:
		h.log.Warn("unknown control type", "session", sess.ID, "type", msg.Type)
		err = sess.EmitError("unknown control message type: " + msg.Type)
	}
	if err != nil {
		h.log.Debug("control dropped", "session", sess.ID, "error", err)
	}
}

// feedAudio routes one binary frame into the session. Frame-local
// failures are reported to the client and the connection stays up; only
// a closed session ends the read loop.
func (h *Handler) feedAudio(sess *session.Session, frame []byte) error {
	err := sess.FeedAudio(frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrInvalidFrame):
		sess.EmitError("invalid audio frame")
		return nil
	case errors.Is(err, session.ErrNotListening), errors.Is(err, audio.ErrClosed):
		// Frames racing a stop are expected; drop them quietly.
		h.log.Debug("audio frame dropped", "session", sess.ID, "error", err)
		return nil
	default:
		return err
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sess *session.Session, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout),
				)
				return
			}
			if err := h.writeEvent(conn, ev); err != nil {
				h.log.Warn("write failed", "session", sess.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(writeTimeout),
			); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev session.OutboundEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}
