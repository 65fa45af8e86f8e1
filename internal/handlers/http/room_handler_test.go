package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signalhub/internal/core/domain"
	"signalhub/internal/core/services"
	"signalhub/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router *gin.Engine
	rooms  *services.RoomService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rooms := services.NewRoomService(services.RoomServiceOptions{})
	stats := services.NewStatsService(rooms, time.Hour, time.Nanosecond, nil)
	t.Cleanup(stats.Stop)
	rooms.SetOnLeave(stats.Remove)

	auth := services.NewAuthService("test-secret", 15*time.Minute)
	handler := NewHandler(rooms, stats, auth, monitoring.NewHealthChecker(), nil, nil)

	router := gin.New()
	handler.RegisterRoutes(router, fakeAuth("alice", "Alice"))

	return &fixture{router: router, rooms: rooms}
}

// fakeAuth stands in for the JWT middleware.
func fakeAuth(userID, username string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("username", username)
		c.Next()
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) createRoom(t *testing.T, spec domain.RoomSpec) domain.RoomSummary {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/rooms", spec)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var summary domain.RoomSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	return summary
}

func TestCreateAndGetRoom(t *testing.T) {
	f := newFixture(t)

	created := f.createRoom(t, domain.RoomSpec{Name: "standup"})
	assert.Equal(t, domain.RoomWaiting, created.Status)
	assert.Equal(t, domain.UserID("alice"), created.CreatorID)

	w := f.do(t, http.MethodGet, "/api/v1/rooms/"+string(created.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/rooms/room_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRoomRejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/rooms", domain.RoomSpec{Name: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJoinAndLeaveRoom(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, domain.RoomSpec{Name: "demo"})

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rooms/%s/join", room.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var joined struct {
		ConnectionID string `json:"connectionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &joined))
	assert.NotEmpty(t, joined.ConnectionID)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rooms/%s/join", room.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "second join by the same user conflicts")

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rooms/%s/leave", room.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rooms/%s/leave", room.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinPrivateRoomWrongPassword(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, domain.RoomSpec{Name: "secret", IsPrivate: true, Password: "pw"})

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/rooms/%s/join", room.ID), map[string]string{"password": "nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteRoomForbiddenForNonCreator(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, domain.RoomSpec{Name: "demo"})

	// Same store, different caller.
	other := gin.New()
	stats := services.NewStatsService(f.rooms, time.Hour, time.Nanosecond, nil)
	t.Cleanup(stats.Stop)
	auth := services.NewAuthService("test-secret", 15*time.Minute)
	NewHandler(f.rooms, stats, auth, monitoring.NewHealthChecker(), nil, nil).
		RegisterRoutes(other, fakeAuth("bob", "Bob"))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rooms/"+string(room.ID), nil)
	w := httptest.NewRecorder()
	other.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodDelete, "/api/v1/rooms/"+string(room.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestListRoomsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createRoom(t, domain.RoomSpec{Name: "alpha"})
	f.createRoom(t, domain.RoomSpec{Name: "beta", IsPrivate: true, Password: "pw"})

	w := f.do(t, http.MethodGet, "/api/v1/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page domain.RoomPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total, "private rooms hidden without includePrivate")

	w = f.do(t, http.MethodGet, "/api/v1/rooms?includePrivate=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, domain.RoomSpec{Name: "demo"})

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/rooms/%s/stats", room.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/rooms/room_missing/stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/users/stranger/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code, "user stats never fail for unknown users")
}

func TestTokenEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"userId": "alice", "username": "Alice"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)

	w = f.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"userId": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
