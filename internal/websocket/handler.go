package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"parley/internal/hub"
	"parley/internal/logging"
	"parley/pkg/interfaces"
	"parley/pkg/types"
)

// RoomSubscriber attaches a listener to every room of a user and resolves
// the messages reactions point at.
type RoomSubscriber interface {
	hub.MessageLookup
	AddUserListener(userID string, l interfaces.RoomListener)
}

// Config tunes liveness and buffering.
type Config struct {
	PingInterval time.Duration
	PongWait     time.Duration
	SendBuffer   int
}

func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		SendBuffer:   DefaultSendBuffer,
	}
}

var upgrader = websocket.Upgrader{
	// Tokens travel in the query string, so origin checks add nothing here.
	CheckOrigin:      func(*http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades authenticated requests into push connections.
type Handler struct {
	registry  *Registry
	sessions  interfaces.SessionRegistry
	rooms     RoomSubscriber
	publisher interfaces.EventPublisher
	config    Config
}

func NewHandler(registry *Registry, sessions interfaces.SessionRegistry, rooms RoomSubscriber, publisher interfaces.EventPublisher, config Config) *Handler {
	return &Handler{
		registry:  registry,
		sessions:  sessions,
		rooms:     rooms,
		publisher: publisher,
		config:    config,
	}
}

// TokenFromRequest reads the session token from the query string or an
// Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Session-Token")
}

// HandleWebSocket resolves the session before upgrading, so a bad token gets
// a plain 401 instead of a socket that closes immediately.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing session token", http.StatusUnauthorized)
		return
	}
	session, err := h.sessions.Resolve(token)
	if err != nil {
		http.Error(w, "session not found", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", session.UserID).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.config.SendBuffer)
	if err := conn.SetCredentials(session); err != nil {
		_ = conn.Close()
		return
	}
	if err := h.registry.RegisterConnection(conn); err != nil {
		logging.Warn().Err(err).Str("user_id", session.UserID).Msg("failed to register connection")
		_ = conn.Close()
		return
	}

	if err := conn.WriteJSON(types.Event{
		Type:      types.EventTypeSystem,
		Data:      map[string]string{"event": "connected", "session_id": session.SessionID, "alias": session.Alias},
		Timestamp: time.Now(),
	}); err != nil {
		logging.Debug().Err(err).Msg("failed to send welcome")
	}

	// Existing rooms are replayed as room events through OnNewRoom.
	h.rooms.AddUserListener(session.UserID, hub.NewListener(conn, h.publisher, h.rooms))

	logging.Info().Str("user_id", session.UserID).Str("session_id", session.SessionID).Msg("push connection opened")
	go h.handleConnection(conn)
}

// handleConnection owns the read side and the heartbeat. Clients only read
// from this socket; anything they send is discarded.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		logging.Debug().Str("user_id", conn.GetUserID()).Msg("push connection closed")
	}()

	ws := conn.conn
	ws.SetReadLimit(4096)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	go h.heartbeat(conn)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("user_id", conn.GetUserID()).Msg("websocket read error")
			}
			return
		}
	}
}

// heartbeat pings the peer and closes the socket once its session is gone,
// whether by logout, forced clear or idle eviction.
func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !h.sessionAlive(conn) {
				_ = conn.Close()
				return
			}
			if err := conn.ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// sessionAlive checks without touching the session's idle clock.
func (h *Handler) sessionAlive(conn *Connection) bool {
	sessionID := conn.GetSessionID()
	return lo.ContainsBy(h.sessions.SessionsOf(conn.GetUserID()), func(s types.UserSession) bool {
		return s.SessionID == sessionID
	})
}
