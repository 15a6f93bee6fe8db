package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"parley/internal/auth"
	"parley/internal/chatroom"
	"parley/internal/logging"
	"parley/pkg/types"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := decode(r, w, &creds); err != nil {
		writeError(w, r, err)
		return
	}
	user, token, err := s.Auth.Login(r.Context(), creds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	session := s.Sessions.Bind(token, user)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Session: session})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r.Context())
	s.Sessions.Clear(token)
	if s.Connections != nil {
		s.Connections.CloseToken(token)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r.Context()))
}

// handleListRooms returns the caller's rooms; admins may ask for every room
// or every active room with ?scope=.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	var rooms []*chatroom.Room
	switch scope {
	case "", "mine":
		rooms = s.Rooms.GetByUser(sessionFrom(r.Context()).UserID)
	case "all", "active":
		if !s.Sessions.RolesOf(tokenFrom(r.Context())).Has(types.PermAdmin) {
			sendError(w, "requires "+string(types.PermAdmin), http.StatusForbidden)
			return
		}
		if scope == "all" {
			rooms = s.Rooms.ListAll()
		} else {
			rooms = s.Rooms.ListActive()
		}
	default:
		sendError(w, "unknown scope "+scope, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, infos(rooms))
}

func (s *Server) handleAssessed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infos(s.Rooms.GetAssessedRoomsByUser(sessionFrom(r.Context()).UserID)))
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, err)
		return
	}
	room, err := s.Rooms.Create(req.Participants, req.Prompt, s.logged(req.Logged))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.DurationSeconds > 0 {
		if err := room.SetEndTime(time.Now().Add(time.Duration(req.DurationSeconds) * time.Second)); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, room.Info())
}

func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rooms, err := s.Rooms.CreateRound(req.Groups, req.Prompt, time.Duration(req.DurationSeconds)*time.Second, s.logged(req.Logged))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, infos(rooms))
}

func (s *Server) handleForceClear(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !types.IsValidUserID(userID) {
		writeError(w, r, types.ErrInvalidUserID)
		return
	}
	resp := ForceClearResponse{SessionsCleared: s.Sessions.ForceClear(userID)}
	if s.Connections != nil {
		resp.ConnectionsClosed = s.Connections.CloseUser(userID)
	}
	logging.Info().Str("user_id", userID).Int("sessions", resp.SessionsCleared).
		Str("by", sessionFrom(r.Context()).UserID).Msg("sessions force cleared")
	writeJSON(w, http.StatusOK, resp)
}

// readableRoom loads the room and checks the caller may read it: participants,
// admins and evaluators.
func (s *Server) readableRoom(r *http.Request) (*chatroom.Room, types.Viewer, error) {
	session := sessionFrom(r.Context())
	room, err := s.Rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		return nil, types.Viewer{}, err
	}
	perms := s.Sessions.RolesOf(tokenFrom(r.Context()))
	viewer := types.Viewer{UserID: session.UserID, Elevated: perms.Has(types.PermAdmin)}
	if !room.HasParticipant(session.UserID) && !perms.Has(types.PermAdmin) && !perms.Has(types.PermEvaluator) {
		return nil, viewer, chatroom.ErrSessionNotInRoom
	}
	return room, viewer, nil
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, _, err := s.readableRoom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Info())
}

// handleListMessages returns messages visible to the caller, optionally only
// those stamped at or after ?since= (RFC 3339).
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	room, viewer, err := s.readableRoom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, r, types.Errorf(types.KindValidation, "invalid since: %v", err))
			return
		}
	}
	msgs := room.MessagesSince(since, viewer)
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePartner(w http.ResponseWriter, r *http.Request) {
	partner, ok, err := s.Rooms.GetChatPartner(chi.URLParam(r, "roomID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		sendError(w, "room does not have exactly one partner", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, PartnerResponse{UserID: partner})
}

// handlePostMessage appends a message. An ordinal of -1 is accepted and
// dropped; any other ordinal is ignored and assigned by the room.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, err)
		return
	}
	room, err := s.Rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	session := sessionFrom(r.Context())
	msg := types.Message{
		SessionID:  session.SessionID,
		UserID:     session.UserID,
		Content:    req.Content,
		Recipients: req.Recipients,
	}
	if req.Ordinal != nil && *req.Ordinal == types.NoopOrdinal {
		msg.Ordinal = types.NoopOrdinal
	}
	stored, err := room.AddMessage(msg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if stored.Ordinal == types.NoopOrdinal {
		writeJSON(w, http.StatusAccepted, stored)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handlePostReaction(w http.ResponseWriter, r *http.Request) {
	var req PostReactionRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, err)
		return
	}
	room, err := s.Rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	session := sessionFrom(r.Context())
	stored, err := room.AddReaction(types.Reaction{
		MessageOrdinal: req.MessageOrdinal,
		SessionID:      session.SessionID,
		UserID:         session.UserID,
		Type:           req.Type,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	if err := s.Rooms.MarkAsAssessed(sessionFrom(r.Context()).UserID, chi.URLParam(r, "roomID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.Rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !room.Deactivate() {
		writeError(w, r, chatroom.ErrRoomNotActive)
		return
	}
	writeJSON(w, http.StatusOK, room.Info())
}

func (s *Server) handleSetEndTime(w http.ResponseWriter, r *http.Request) {
	var req SetEndTimeRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, err)
		return
	}
	room, err := s.Rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := room.SetEndTime(req.EndTime); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room.Info())
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req AddParticipantRequest
	if err := decode(r, w, &req); err != nil {
		writeError(w, r, err)
		return
	}
	alias, err := s.Rooms.AddUser(chi.URLParam(r, "roomID"), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AddParticipantResponse{UserID: req.UserID, Alias: alias})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Database:    "healthy",
		ActiveRooms: len(s.Rooms.ListActive()),
	}
	if s.Connections != nil {
		resp.Connections = s.Connections.Count()
	}
	code := http.StatusOK
	if s.Health != nil {
		if err := s.Health.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error: " + err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

// logged resolves a request's optional logged flag against the server default.
func (s *Server) logged(requested *bool) bool {
	if requested != nil {
		return *requested
	}
	return s.LogRooms
}

func infos(rooms []*chatroom.Room) []types.RoomInfo {
	return lo.Map(rooms, func(r *chatroom.Room, _ int) types.RoomInfo { return r.Info() })
}
