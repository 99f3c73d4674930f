package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcriess/lightspeed-sync/admission"
	"github.com/tcriess/lightspeed-sync/limiter"
	"github.com/tcriess/lightspeed-sync/room"
	"github.com/tcriess/lightspeed-sync/types"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// RoomHandler exposes the room management API.
type RoomHandler struct {
	registry     *room.Registry
	limiter      *limiter.Limiter
	orchestrator *admission.Orchestrator
}

func NewRoomHandler(registry *room.Registry, l *limiter.Limiter, orchestrator *admission.Orchestrator) *RoomHandler {
	return &RoomHandler{registry: registry, limiter: l, orchestrator: orchestrator}
}

// Routes registers the API routes, all behind the per-IP request limit.
func (h *RoomHandler) Routes(router *mux.Router) {
	limited := func(fn http.HandlerFunc) http.Handler {
		return RateLimit(h.limiter, limiter.DimensionAPI, fn)
	}
	router.Handle("/rooms", limited(h.registerRoom)).Methods(http.MethodPost)
	router.Handle("/rooms", limited(h.listRooms)).Methods(http.MethodGet)
	router.Handle("/rooms/{roomId}/members", limited(h.addMember)).Methods(http.MethodPost)
	router.Handle("/rooms/{roomId}/token", limited(h.issueToken)).Methods(http.MethodPost)
	router.Handle("/rooms/{roomId}", limited(h.closeRoom)).Methods(http.MethodDelete)
	router.Handle("/codes/{code}", limited(h.resolveCode)).Methods(http.MethodGet)
}

type registerRequest struct {
	RoomId     string `json:"roomId"`
	Code       string `json:"code"`
	HostUserId string `json:"hostUserId"`
}

func (h *RoomHandler) registerRoom(w http.ResponseWriter, r *http.Request) {
	req := registerRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		req.Code = room.GenerateCode()
	}
	if req.RoomId == "" || req.HostUserId == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "roomId and hostUserId are required")
		return
	}
	if err := h.registry.Register(r.Context(), req.RoomId, req.Code, req.HostUserId); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"roomId": req.RoomId, "code": req.Code})
}

func (h *RoomHandler) resolveCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	mapping, err := h.registry.ResolveCode(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

type addMemberRequest struct {
	UserId string `json:"userId"`
}

func (h *RoomHandler) addMember(w http.ResponseWriter, r *http.Request) {
	req := addMemberRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "userId is required")
		return
	}
	if err := h.registry.AddMember(r.Context(), mux.Vars(r)["roomId"], req.UserId); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type issueTokenRequest struct {
	UserId string     `json:"userId"`
	Role   types.Role `json:"role"`
}

type issueTokenResponse struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

func (h *RoomHandler) issueToken(w http.ResponseWriter, r *http.Request) {
	req := issueTokenRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" {
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "userId is required")
		return
	}
	if !req.Role.Valid() {
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "role must be host or guest")
		return
	}
	token, expiry, err := h.registry.IssueRoleToken(r.Context(), req.UserId, mux.Vars(r)["roomId"], req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issueTokenResponse{Token: token, Expiry: expiry})
}

type roomSummary struct {
	RoomId      string    `json:"roomId"`
	HostUserId  string    `json:"hostUserId"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type listRoomsResponse struct {
	Rooms []roomSummary `json:"rooms"`
	Page  int           `json:"page"`
	Total int           `json:"total"`
}

// listRooms enumerates rooms newest first. Backed by a full keyspace scan, so
// strictly an administrative endpoint.
func (h *RoomHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	rooms, err := h.registry.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	start := (page - 1) * limit
	if start > len(rooms) {
		start = len(rooms)
	}
	end := start + limit
	if end > len(rooms) {
		end = len(rooms)
	}
	summaries := make([]roomSummary, 0, end-start)
	for _, rm := range rooms[start:end] {
		summaries = append(summaries, roomSummary{
			RoomId:      rm.Id,
			HostUserId:  rm.HostId,
			MemberCount: len(rm.Members),
			CreatedAt:   rm.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listRoomsResponse{Rooms: summaries, Page: page, Total: len(rooms)})
}

type closeRoomRequest struct {
	Reason string `json:"reason"`
}

type closeRoomResponse struct {
	Disconnected int `json:"disconnected"`
}

// closeRoom disconnects every connection of the room and deletes its data.
func (h *RoomHandler) closeRoom(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	req := closeRoomRequest{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // reason is optional
	}
	disconnected := 0
	if transport := h.orchestrator.Transport(); transport != nil {
		disconnected = transport.CloseTarget("room:"+roomId+":", req.Reason)
	}
	if err := h.registry.DeleteRoom(r.Context(), roomId); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closeRoomResponse{Disconnected: disconnected})
}
