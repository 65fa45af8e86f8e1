package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateRoomID generates a unique room ID.
func GenerateRoomID() string {
	return fmt.Sprintf("room_%s", uuid.NewString())
}

// GenerateConnectionID generates a unique connection ID, assigned to a
// participant at join time.
func GenerateConnectionID() string {
	return fmt.Sprintf("conn_%s", uuid.NewString())
}

// GenerateInstanceID generates the per-process identity used by the
// fan-out bus to skip its own messages.
func GenerateInstanceID() string {
	return fmt.Sprintf("instance_%s", uuid.NewString())
}
