package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testRoom() *Room {
	return &Room{
		ID:              "room_1",
		Name:            "Daily Standup",
		Status:          RoomActive,
		CreatorID:       "alice",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
		MaxParticipants: 10,
		Tags:            []string{"work"},
		Participants: map[UserID]*Participant{
			"alice": {UserID: "alice", Username: "Alice", Role: RoleBroadcaster, ConnectionID: "conn_1"},
		},
	}
}

func TestRoomClone(t *testing.T) {
	room := testRoom()
	clone := room.Clone()

	clone.Participants["bob"] = &Participant{UserID: "bob"}
	clone.Participants["alice"].Username = "Mallory"
	clone.Tags[0] = "hacked"

	assert.Len(t, room.Participants, 1)
	assert.Equal(t, "Alice", room.Participants["alice"].Username)
	assert.Equal(t, "work", room.Tags[0])
}

func TestRoomSummaryDerivesCount(t *testing.T) {
	room := testRoom()
	summary := room.Summary()
	assert.Equal(t, 1, summary.CurrentParticipants)

	room.Participants["bob"] = &Participant{UserID: "bob"}
	assert.Equal(t, 2, room.Summary().CurrentParticipants)
}

func TestRoomFilterMatches(t *testing.T) {
	room := testRoom()

	assert.True(t, RoomFilter{}.Matches(room))
	assert.True(t, RoomFilter{Status: RoomActive}.Matches(room))
	assert.False(t, RoomFilter{Status: RoomWaiting}.Matches(room))
	assert.True(t, RoomFilter{NameSearch: "STANDUP"}.Matches(room))
	assert.False(t, RoomFilter{NameSearch: "retro"}.Matches(room))
	assert.True(t, RoomFilter{Tags: []string{"work", "fun"}}.Matches(room))
	assert.False(t, RoomFilter{Tags: []string{"fun"}}.Matches(room))

	private := testRoom()
	private.IsPrivate = true
	assert.False(t, RoomFilter{}.Matches(private))
	assert.True(t, RoomFilter{IncludePrivate: true}.Matches(private))
}

func TestSignalingMessageBroadcast(t *testing.T) {
	msg := &SignalingMessage{Type: MessageOffer, RoomID: "room_1", FromUserID: "alice"}
	assert.True(t, msg.Broadcast())

	msg.ToUserID = "bob"
	assert.False(t, msg.Broadcast())
}

func TestConnectionStateValid(t *testing.T) {
	assert.True(t, ConnConnected.Valid())
	assert.False(t, ConnectionState("NAPPING").Valid())
}

func TestStatsMergeSticky(t *testing.T) {
	stats := &ConnectionStats{LatencyMs: 40, BitrateKbps: 2500}

	latency := 55.0
	stats.Merge(&StatsReport{LatencyMs: &latency})

	assert.Equal(t, 55.0, stats.LatencyMs)
	assert.Equal(t, 2500, stats.BitrateKbps, "omitted fields keep their previous value")
}
