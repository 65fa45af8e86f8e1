package validation

import (
	"fmt"
	"regexp"
	"strings"

	"signalhub/internal/core/domain"
)

var tagRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
	maxTagLength         = 32
	maxTagCount          = 10
	maxPasswordLength    = 128
)

// ValidateRoomSpec checks a room creation request before any mutation.
func ValidateRoomSpec(spec domain.RoomSpec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("room name is too long (max %d characters)", maxNameLength)
	}
	if len(spec.Description) > maxDescriptionLength {
		return fmt.Errorf("room description is too long (max %d characters)", maxDescriptionLength)
	}
	if spec.IsPrivate && spec.Password == "" {
		return fmt.Errorf("private rooms require a password")
	}
	if len(spec.Password) > maxPasswordLength {
		return fmt.Errorf("room password is too long (max %d characters)", maxPasswordLength)
	}
	if len(spec.Tags) > maxTagCount {
		return fmt.Errorf("too many tags (max %d)", maxTagCount)
	}
	for _, tag := range spec.Tags {
		if err := validateTag(tag); err != nil {
			return err
		}
	}
	return nil
}

func validateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("empty tag")
	}
	if len(tag) > maxTagLength {
		return fmt.Errorf("tag %q is too long (max %d characters)", tag, maxTagLength)
	}
	if !tagRegex.MatchString(tag) {
		return fmt.Errorf("tag %q contains invalid characters (only letters, numbers, _, - allowed)", tag)
	}
	return nil
}

// ValidateJoinRequest checks the caller-controlled parts of a join.
func ValidateJoinRequest(req domain.JoinRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if strings.TrimSpace(req.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if !req.Role.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, req.Role)
	}
	return nil
}
