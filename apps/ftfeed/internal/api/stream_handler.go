package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/session"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPongWait     = 60 * time.Second
	streamPingInterval = 30 * time.Second
)

// StreamHandler pushes session updates over WebSocket.
type StreamHandler struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewStreamHandler(sessions *session.Manager, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream handles GET /api/sessions/{id}/stream. The current views are sent
// first, then every update until the client or the session goes away.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeErrorResponse(w, http.StatusNotFound, "session_not_found", "Session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("session_id", s.ID()), zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.Stream()
	defer unsubscribe()

	logger := h.logger.With(zap.String("session_id", s.ID()))
	logger.Info("Stream connected")

	closed := make(chan struct{})
	go readLoop(conn, closed)

	if err := h.sendSnapshot(conn, s); err != nil {
		logger.Debug("Failed to send snapshot", zap.Error(err))
		return
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.Info("Stream disconnected")
			return
		case update, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			if err := writeMessage(conn, toStreamMessage(s, update)); err != nil {
				logger.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) sendSnapshot(conn *websocket.Conn, s *session.Session) error {
	trades, err := s.Trades()
	if err != nil {
		// No feed yet; updates start once a wallet is connected.
		return nil
	}
	if err := writeMessage(conn, toStreamMessage(s, session.Update{Type: session.UpdateTrades, Trades: trades})); err != nil {
		return err
	}

	deposits, err := s.Deposits()
	if err != nil {
		return nil
	}
	return writeMessage(conn, toStreamMessage(s, session.Update{Type: session.UpdateDeposits, Deposits: deposits}))
}

// readLoop drains client frames so pongs and close frames are processed.
func readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, message StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(message)
}

func toStreamMessage(s *session.Session, update session.Update) StreamMessage {
	message := StreamMessage{Type: update.Type, Notification: update.Notification}
	switch update.Type {
	case session.UpdateTrades:
		message.Trades = tradeRows(update.Trades, s.Profiles())
	case session.UpdateDeposits:
		message.Deposits = depositRows(update.Deposits, s.Profiles())
	}
	return message
}

// writeErrorResponse writes an error response before the upgrade
func (h *StreamHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: errorCode, Message: message}); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}
