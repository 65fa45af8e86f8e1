package signal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signalhub/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func originAllowed(s *Server, origin string) bool {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return s.checkOrigin(req)
}

func newTestServer() *Server {
	return NewServer(Config{SendBuffer: 2}, nil, nil, nil, nil, nil, nil)
}

func TestSendToUnknownConnection(t *testing.T) {
	s := newTestServer()
	assert.Error(t, s.Send("conn_missing", "hello"))
	assert.False(t, s.Connected("conn_missing"))
}

func TestSendQueuesPayload(t *testing.T) {
	s := newTestServer()
	cl := &client{server: s, send: make(chan []byte, 2)}
	s.register("conn_1", cl)

	require.NoError(t, s.Send("conn_1", domain.NewStateNotice("room_1", "alice", domain.ConnConnected)))
	assert.True(t, s.Connected("conn_1"))

	select {
	case data := <-cl.send:
		assert.Contains(t, string(data), "user-connection-state-change")
	case <-time.After(time.Second):
		t.Fatal("payload was not queued")
	}
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	s := newTestServer()
	cl := &client{server: s, send: make(chan []byte, 1)}
	s.register("conn_1", cl)

	require.NoError(t, s.Send("conn_1", "first"))
	assert.Error(t, s.Send("conn_1", "second"), "a full buffer counts as unreachable")
}

func TestUnregisterRemovesConnection(t *testing.T) {
	s := newTestServer()
	cl := &client{server: s, send: make(chan []byte, 1)}
	s.register("conn_1", cl)
	s.unregister("conn_1")

	assert.False(t, s.Connected("conn_1"))
	assert.Equal(t, 0, s.Sessions())
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(Config{AllowedOrigins: []string{"https://app.example.com"}}, nil, nil, nil, nil, nil, nil)

	assert.True(t, originAllowed(s, ""))
	assert.True(t, originAllowed(s, "https://app.example.com"))
	assert.False(t, originAllowed(s, "https://evil.example.com"))

	wildcard := NewServer(Config{AllowedOrigins: []string{"*"}}, nil, nil, nil, nil, nil, nil)
	assert.True(t, originAllowed(wildcard, "https://anything.example.com"))
}
