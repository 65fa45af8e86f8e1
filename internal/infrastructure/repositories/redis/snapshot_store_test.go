package redis

import (
	"encoding/json"
	"testing"
	"time"

	"signalhub/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotRoom() *domain.Room {
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Room{
		ID:              "room-1",
		Name:            "standup",
		Status:          domain.RoomActive,
		CreatorID:       "alice",
		CreatedAt:       base,
		UpdatedAt:       base,
		MaxParticipants: 10,
		IsPrivate:       true,
		Password:        "hunter2",
		Participants: map[domain.UserID]*domain.Participant{
			"carol": {UserID: "carol", Username: "Carol", Role: domain.RoleViewer, ConnectionID: "conn-3", ConnectionState: domain.ConnConnected, JoinedAt: base.Add(2 * time.Minute)},
			"alice": {UserID: "alice", Username: "Alice", Role: domain.RoleBroadcaster, ConnectionID: "conn-1", ConnectionState: domain.ConnConnected, JoinedAt: base},
			"bob":   {UserID: "bob", Username: "Bob", Role: domain.RoleViewer, ConnectionID: "conn-2", ConnectionState: domain.ConnConnecting, JoinedAt: base.Add(time.Minute)},
		},
	}
}

func TestFlattenParticipantsOrdersByJoinTime(t *testing.T) {
	room := snapshotRoom()

	entries := flattenParticipants(room.Participants)

	require.Len(t, entries, 3)
	assert.Equal(t, domain.UserID("alice"), entries[0].UserID)
	assert.Equal(t, domain.UserID("bob"), entries[1].UserID)
	assert.Equal(t, domain.UserID("carol"), entries[2].UserID)
}

func TestFlattenParticipantsSameInstantFallsBackToUserID(t *testing.T) {
	joined := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	entries := flattenParticipants(map[domain.UserID]*domain.Participant{
		"zoe": {UserID: "zoe", JoinedAt: joined},
		"amy": {UserID: "amy", JoinedAt: joined},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, domain.UserID("amy"), entries[0].UserID)
	assert.Equal(t, domain.UserID("zoe"), entries[1].UserID)
}

func TestSnapshotSerializesParticipantsAsOrderedList(t *testing.T) {
	room := snapshotRoom()

	shell := *room
	shell.Participants = nil
	data, err := json.Marshal(roomSnapshot{
		Room:         &shell,
		Participants: flattenParticipants(room.Participants),
		Password:     room.Password,
		SavedAt:      time.Now(),
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	list, ok := decoded["participants"].([]interface{})
	require.True(t, ok, "participants must be a list, not an object")
	require.Len(t, list, 3)

	first, ok := list[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", first["userId"])

	roomObj, ok := decoded["room"].(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, roomObj, "participants")
	assert.NotContains(t, roomObj, "password")
}

func TestSnapshotRoundTripRebuildsParticipantMap(t *testing.T) {
	room := snapshotRoom()

	shell := *room
	shell.Participants = nil
	data, err := json.Marshal(roomSnapshot{
		Room:         &shell,
		Participants: flattenParticipants(room.Participants),
		Password:     room.Password,
		SavedAt:      time.Now(),
	})
	require.NoError(t, err)

	var snapshot roomSnapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	snapshot.Room.Password = snapshot.Password
	snapshot.Room.Participants = unflattenParticipants(snapshot.Participants)

	require.Len(t, snapshot.Room.Participants, 3)
	assert.Equal(t, "hunter2", snapshot.Room.Password)
	bob := snapshot.Room.Participants["bob"]
	require.NotNil(t, bob)
	assert.Equal(t, domain.ConnectionID("conn-2"), bob.ConnectionID)
}
