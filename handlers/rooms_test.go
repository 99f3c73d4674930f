package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcriess/lightspeed-sync/admission"
	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/cache"
	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/limiter"
	"github.com/tcriess/lightspeed-sync/persistence"
	"github.com/tcriess/lightspeed-sync/room"
)

func newTestRouter(t *testing.T, limits config.LimitsConfig) *mux.Router {
	store, err := persistence.NewBuntDBStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authenticator, err := auth.NewAuthenticator(config.AuthConfig{TokenSecret: "secret", TokenTTL: time.Hour})
	require.NoError(t, err)
	registry := room.NewRegistry(store, authenticator, time.Hour)
	members, err := cache.NewMembers(registry, time.Minute)
	require.NoError(t, err)
	registry.SetInvalidator(members)

	l := limiter.NewLimiter(store, limits)
	orchestrator := admission.NewOrchestrator(authenticator, members, l, limiter.NewIPGauge(store, limits), false)

	router := mux.NewRouter()
	NewRoomHandler(registry, l, orchestrator).Routes(router.PathPrefix("/api").Subrouter())
	return router
}

func do(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "1.2.3.4:5678"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func permissiveLimits() config.LimitsConfig {
	return config.LimitsConfig{
		SocketLimit: 100, RoomLimit: 100, HTTPLimit: 100,
		Window: time.Minute, IPCap: 10, GaugeTTL: time.Hour, FailOpen: true,
	}
}

func TestRoomAPIEndToEnd(t *testing.T) {
	router := newTestRouter(t, permissiveLimits())

	rec := do(t, router, http.MethodPost, "/api/rooms",
		map[string]string{"roomId": "r1", "code": "ABC123", "hostUserId": "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/codes/ABC123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := map[string]string{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, "r1", resolved["roomId"])

	rec = do(t, router, http.MethodPost, "/api/rooms/r1/members", map[string]string{"userId": "u2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/rooms/r1/token",
		map[string]string{"userId": "u2", "role": "guest"})
	require.Equal(t, http.StatusOK, rec.Code)
	tokenResp := issueTokenResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))
	assert.NotEmpty(t, tokenResp.Token)
	assert.True(t, tokenResp.Expiry.After(time.Now()))

	rec = do(t, router, http.MethodPost, "/api/rooms/r1/token",
		map[string]string{"userId": "u2", "role": "host"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	errResp := errorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, CodeNotHost, errResp.Error)
}

func TestRegisterConflictAndValidation(t *testing.T) {
	router := newTestRouter(t, permissiveLimits())

	rec := do(t, router, http.MethodPost, "/api/rooms",
		map[string]string{"roomId": "r1", "code": "ABC123", "hostUserId": "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/rooms",
		map[string]string{"roomId": "r2", "code": "ABC123", "hostUserId": "u2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	errResp := errorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, CodeCodeConflict, errResp.Error)

	rec = do(t, router, http.MethodPost, "/api/rooms", map[string]string{"code": "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// an omitted code gets generated
	rec = do(t, router, http.MethodPost, "/api/rooms",
		map[string]string{"roomId": "r3", "hostUserId": "u3"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := map[string]string{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created["code"])
}

func TestListRoomsPaged(t *testing.T) {
	router := newTestRouter(t, permissiveLimits())

	for _, id := range []string{"r1", "r2", "r3"} {
		rec := do(t, router, http.MethodPost, "/api/rooms",
			map[string]string{"roomId": id, "code": "code-" + id, "hostUserId": "u1"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, router, http.MethodGet, "/api/rooms?page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := listRoomsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Rooms, 2)

	rec = do(t, router, http.MethodGet, "/api/rooms?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Rooms, 1)
}

func TestCloseRoom(t *testing.T) {
	router := newTestRouter(t, permissiveLimits())

	rec := do(t, router, http.MethodPost, "/api/rooms",
		map[string]string{"roomId": "r1", "code": "ABC123", "hostUserId": "u1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/rooms/r1", closeRoomRequest{Reason: "maintenance"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/codes/ABC123", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPRateLimit(t *testing.T) {
	limits := permissiveLimits()
	limits.HTTPLimit = 2
	router := newTestRouter(t, limits)

	for i := 0; i < 2; i++ {
		rec := do(t, router, http.MethodGet, "/api/rooms", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	rec := do(t, router, http.MethodGet, "/api/rooms", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	errResp := errorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, CodeRateLimited, errResp.Error)

	// a different client IP is not affected
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.RemoteAddr = "9.9.9.9:1"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
