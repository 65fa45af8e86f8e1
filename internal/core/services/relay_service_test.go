package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"signalhub/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records deliveries and can simulate unreachable targets.
type fakeSink struct {
	mu       sync.Mutex
	sent     map[domain.ConnectionID][]interface{}
	failures map[domain.ConnectionID]error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		sent:     make(map[domain.ConnectionID][]interface{}),
		failures: make(map[domain.ConnectionID]error),
	}
}

func (f *fakeSink) Send(id domain.ConnectionID, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[id]; ok {
		return err
	}
	f.sent[id] = append(f.sent[id], payload)
	return nil
}

func (f *fakeSink) Connected(id domain.ConnectionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sent[id]
	return ok
}

func (f *fakeSink) deliveries(id domain.ConnectionID) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.sent[id]...)
}

// fakeBus captures published messages.
type fakeBus struct {
	mu        sync.Mutex
	published []*domain.SignalingMessage
	err       error
}

func (f *fakeBus) Publish(_ context.Context, msg *domain.SignalingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, _ func(*domain.SignalingMessage)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type relayFixture struct {
	rooms *RoomService
	stats *StatsService
	sink  *fakeSink
	bus   *fakeBus
	relay *RelayService

	roomID domain.RoomID
	conns  map[domain.UserID]domain.ConnectionID
}

func newRelayFixture(t *testing.T, users ...string) *relayFixture {
	t.Helper()

	rooms := newTestRoomService()
	stats := NewStatsService(rooms, time.Hour, time.Nanosecond, nil)
	t.Cleanup(stats.Stop)
	rooms.SetOnLeave(stats.Remove)

	sink := newFakeSink()
	bus := &fakeBus{}
	relay := NewRelayService(rooms, stats, sink, bus, nil)

	ctx := context.Background()
	room, err := rooms.CreateRoom(ctx, domain.RoomSpec{Name: "relay"}, domain.UserID(users[0]))
	require.NoError(t, err)

	conns := make(map[domain.UserID]domain.ConnectionID)
	for _, u := range users {
		conn, err := rooms.JoinRoom(ctx, room.ID, joinReq(u, u))
		require.NoError(t, err)
		conns[domain.UserID(u)] = conn
	}

	return &relayFixture{rooms: rooms, stats: stats, sink: sink, bus: bus, relay: relay, roomID: room.ID, conns: conns}
}

func offerData(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]string{"sdp": "v=0..."})
	require.NoError(t, err)
	return data
}

func TestRelayTargetedDelivery(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob", "carol")

	err := f.relay.Relay(context.Background(), f.conns["alice"], &domain.SignalingMessage{
		Type:       domain.MessageOffer,
		RoomID:     f.roomID,
		FromUserID: "alice",
		ToUserID:   "bob",
		Data:       offerData(t),
	})
	require.NoError(t, err)

	assert.Len(t, f.sink.deliveries(f.conns["bob"]), 1)
	assert.Empty(t, f.sink.deliveries(f.conns["carol"]), "targeted messages reach only the target")
	assert.Empty(t, f.sink.deliveries(f.conns["alice"]))
	assert.Equal(t, 1, f.bus.count())
}

func TestRelayBroadcastExcludesSender(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob", "carol")

	err := f.relay.Relay(context.Background(), f.conns["alice"], &domain.SignalingMessage{
		Type:       domain.MessageICECandidate,
		RoomID:     f.roomID,
		FromUserID: "alice",
		Data:       offerData(t),
	})
	require.NoError(t, err)

	assert.Len(t, f.sink.deliveries(f.conns["bob"]), 1)
	assert.Len(t, f.sink.deliveries(f.conns["carol"]), 1)
	assert.Empty(t, f.sink.deliveries(f.conns["alice"]), "sender never receives its own broadcast")
}

func TestRelayRejectsNonParticipant(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob")

	err := f.relay.Relay(context.Background(), "conn_x", &domain.SignalingMessage{
		Type:       domain.MessageOffer,
		RoomID:     f.roomID,
		FromUserID: "mallory",
		ToUserID:   "bob",
	})
	assert.ErrorIs(t, err, domain.ErrNotInRoom)
	assert.Empty(t, f.sink.deliveries(f.conns["bob"]))
	assert.Equal(t, 0, f.bus.count(), "rejected messages are never fanned out")
}

func TestRelayDeliveryFailureNotSurfaced(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob")
	f.sink.failures[f.conns["bob"]] = errors.New("buffer full")

	err := f.relay.Relay(context.Background(), f.conns["alice"], &domain.SignalingMessage{
		Type:       domain.MessageOffer,
		RoomID:     f.roomID,
		FromUserID: "alice",
		ToUserID:   "bob",
		Data:       offerData(t),
	})
	assert.NoError(t, err, "delivery failures are logged, never returned to the sender")
}

func TestRelayStateChange(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob")
	ctx := context.Background()

	payload, err := json.Marshal(domain.StateChangePayload{State: domain.ConnConnected})
	require.NoError(t, err)

	err = f.relay.Relay(ctx, f.conns["alice"], &domain.SignalingMessage{
		Type:       domain.MessageStateChange,
		RoomID:     f.roomID,
		FromUserID: "alice",
		Data:       payload,
	})
	require.NoError(t, err)

	deliveries := f.sink.deliveries(f.conns["bob"])
	require.Len(t, deliveries, 1)
	notice, ok := deliveries[0].(domain.ConnectionStateNotice)
	require.True(t, ok, "peers receive a notice, not the raw payload")
	assert.Equal(t, domain.UserID("alice"), notice.UserID)
	assert.Equal(t, domain.ConnConnected, notice.State)

	summary, err := f.stats.RoomSummary(ctx, f.roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ConnectionStates[domain.ConnConnected])
}

func TestRelayStateChangeInvalidState(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob")

	payload, err := json.Marshal(domain.StateChangePayload{State: "NAPPING"})
	require.NoError(t, err)

	err = f.relay.Relay(context.Background(), f.conns["alice"], &domain.SignalingMessage{
		Type:       domain.MessageStateChange,
		RoomID:     f.roomID,
		FromUserID: "alice",
		Data:       payload,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, f.sink.deliveries(f.conns["bob"]))
}

func TestRelayPublishFailureNotSurfaced(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob")
	f.bus.err = errors.New("redis down")

	err := f.relay.Relay(context.Background(), f.conns["alice"], &domain.SignalingMessage{
		Type:       domain.MessageOffer,
		RoomID:     f.roomID,
		FromUserID: "alice",
		ToUserID:   "bob",
		Data:       offerData(t),
	})
	assert.NoError(t, err, "local delivery must not depend on the fan-out bus")
	assert.Len(t, f.sink.deliveries(f.conns["bob"]), 1)
}

func TestHandleFanoutDeliversLocally(t *testing.T) {
	f := newRelayFixture(t, "alice", "bob")

	// A message relayed by a sibling instance: the sender is not hosted here.
	f.relay.HandleFanout(&domain.SignalingMessage{
		Type:       domain.MessageAnswer,
		RoomID:     f.roomID,
		FromUserID: "remote-user",
		ToUserID:   "bob",
		Data:       offerData(t),
		Timestamp:  time.Now(),
	})

	assert.Len(t, f.sink.deliveries(f.conns["bob"]), 1)
	assert.Empty(t, f.sink.deliveries(f.conns["alice"]))
}

func TestHandleFanoutUnknownRoomIgnored(t *testing.T) {
	f := newRelayFixture(t, "alice")

	assert.NotPanics(t, func() {
		f.relay.HandleFanout(&domain.SignalingMessage{
			Type:       domain.MessageOffer,
			RoomID:     "room_elsewhere",
			FromUserID: "remote-user",
			ToUserID:   "someone",
		})
	})
}
