package types

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator used for inbound payloads and
// API request bodies.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field limits on an inbound payload.
func (m *InboundMessage) Validate() error {
	if err := Validator().Struct(m); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements: 1-64
// characters, alphanumeric plus underscore and hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole reports whether r is one of the known roles.
func IsValidRole(r Role) bool {
	switch r {
	case RoleStudent, RoleCounselor, RoleAdmin:
		return true
	default:
		return false
	}
}
