package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/limiter"
	"github.com/tcriess/lightspeed-sync/room"
)

// Stable error code strings of the HTTP API.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeCodeConflict = "CODE_CONFLICT"
	CodeRoomNotFound = "ROOM_NOT_FOUND"
	CodeNotAMember   = "NOT_A_MEMBER"
	CodeNotHost      = "NOT_HOST"
	CodeIpCap        = "IP_CAP_EXCEEDED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeError maps a domain error to its status and stable code.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrCodeConflict):
		writeErrorCode(w, http.StatusConflict, CodeCodeConflict, err.Error())
	case errors.Is(err, room.ErrRoomNotFound):
		writeErrorCode(w, http.StatusNotFound, CodeRoomNotFound, err.Error())
	case errors.Is(err, room.ErrNotAMember):
		writeErrorCode(w, http.StatusForbidden, CodeNotAMember, err.Error())
	case errors.Is(err, room.ErrNotHost):
		writeErrorCode(w, http.StatusForbidden, CodeNotHost, err.Error())
	case errors.Is(err, limiter.ErrIpCapExceeded):
		writeErrorCode(w, http.StatusTooManyRequests, CodeIpCap, err.Error())
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrRoomMismatch):
		writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
	case errors.Is(err, auth.ErrMalformedTarget):
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	default:
		globals.AppLogger.Error("internal error", "error", err)
		writeErrorCode(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
