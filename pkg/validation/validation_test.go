package validation

import (
	"strings"
	"testing"

	"signalhub/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomSpec(t *testing.T) {
	assert.NoError(t, ValidateRoomSpec(domain.RoomSpec{Name: "standup"}))
	assert.NoError(t, ValidateRoomSpec(domain.RoomSpec{Name: "secret", IsPrivate: true, Password: "pw"}))
	assert.NoError(t, ValidateRoomSpec(domain.RoomSpec{Name: "tagged", Tags: []string{"go-dev", "work_1"}}))

	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: ""}))
	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: "  "}))
	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: strings.Repeat("x", 101)}))
	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: "x", Description: strings.Repeat("d", 501)}))
	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: "x", IsPrivate: true}))
	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: "x", Tags: []string{"bad tag"}}))
	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: "x", Tags: []string{""}}))

	many := make([]string, 11)
	for i := range many {
		many[i] = "t"
	}
	assert.Error(t, ValidateRoomSpec(domain.RoomSpec{Name: "x", Tags: many}))
}

func TestValidateJoinRequest(t *testing.T) {
	assert.NoError(t, ValidateJoinRequest(domain.JoinRequest{
		UserID: "alice", Username: "Alice", Role: domain.RoleViewer,
	}))

	assert.Error(t, ValidateJoinRequest(domain.JoinRequest{Username: "Alice", Role: domain.RoleViewer}))
	assert.Error(t, ValidateJoinRequest(domain.JoinRequest{UserID: "alice", Role: domain.RoleViewer}))
	assert.Error(t, ValidateJoinRequest(domain.JoinRequest{UserID: "alice", Username: "Alice", Role: "ADMIN"}))
}
