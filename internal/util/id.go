package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4, prefixed with "<prefix>_" when prefix is set.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// ParseID strips an optional "<prefix>_" and reports whether the remainder is a UUID.
func ParseID(prefix, id string) (uuid.UUID, bool) {
	if prefix != "" {
		var ok bool
		id, ok = strings.CutPrefix(id, prefix+"_")
		if !ok {
			return uuid.Nil, false
		}
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}
