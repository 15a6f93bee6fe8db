package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"parley/internal/logging"
	"parley/pkg/types"
)

const maxBodyBytes = 64 << 10

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type LoginResponse struct {
	Token   string            `json:"token"`
	Session types.UserSession `json:"session"`
}

type CreateRoomRequest struct {
	Participants    []string `json:"participants" validate:"required,min=1,dive,userid"`
	Prompt          string   `json:"prompt" validate:"max=4096"`
	Logged          *bool    `json:"logged,omitempty"`
	DurationSeconds int      `json:"duration_seconds" validate:"gte=0"`
}

type CreateRoundRequest struct {
	Groups          [][]string `json:"groups" validate:"required,min=1,dive,min=1,dive,userid"`
	Prompt          string     `json:"prompt" validate:"max=4096"`
	Logged          *bool      `json:"logged,omitempty"`
	DurationSeconds int        `json:"duration_seconds" validate:"gt=0"`
}

type PostMessageRequest struct {
	Content    string   `json:"content"`
	Recipients []string `json:"recipients"`
	Ordinal    *int     `json:"ordinal,omitempty"`
}

type PostReactionRequest struct {
	MessageOrdinal int    `json:"message_ordinal"`
	Type           string `json:"type"`
}

type SetEndTimeRequest struct {
	EndTime time.Time `json:"end_time" validate:"required"`
}

type AddParticipantRequest struct {
	UserID string `json:"user_id" validate:"required,userid"`
}

type AddParticipantResponse struct {
	UserID string `json:"user_id"`
	Alias  string `json:"alias"`
}

type PartnerResponse struct {
	UserID string `json:"user_id"`
}

type ForceClearResponse struct {
	SessionsCleared   int `json:"sessions_cleared"`
	ConnectionsClosed int `json:"connections_closed"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
	ActiveRooms int       `json:"active_rooms"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindUnauthenticated:
		return http.StatusUnauthorized
	case types.KindUnauthorized:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindInvalidState:
		return http.StatusConflict
	case types.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err with the status of its kind. Expected failures are
// logged at debug; anything untyped is logged as an error and not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	} else {
		logging.Debug().Err(err).Str("path", r.URL.Path).Int("status", code).Msg("request rejected")
	}
	sendError(w, msg, code)
}

func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("failed to write response")
	}
}

// decode reads a JSON body into v and runs struct validation on it.
func decode(r *http.Request, w http.ResponseWriter, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return types.NewError(types.KindValidation, "request body required")
		}
		return types.Errorf(types.KindValidation, "invalid JSON: %v", err)
	}
	if err := types.Validator().Struct(v); err != nil {
		return types.Errorf(types.KindValidation, "invalid request: %v", err)
	}
	return nil
}
