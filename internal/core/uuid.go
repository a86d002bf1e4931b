package core

import "github.com/google/uuid"

// NewUUIDv7 returns a new time-ordered UUID. Job and audit IDs are v7 so
// that index order matches creation order.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// IsValidUUID reports whether s is a canonical UUID of any version.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// IsValidUUIDv7 reports whether s is a canonical UUIDv7.
func IsValidUUIDv7(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7 && id.Variant() == uuid.RFC4122
}
