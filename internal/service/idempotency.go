package service

import (
	"strings"

	"github.com/google/uuid"
	"github.com/richardliu001/quickpay/internal/apperr"
)

// ParseIdempotencyKey accepts only canonical v4 UUIDs and returns them lower-cased.
func ParseIdempotencyKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 36 {
		return "", apperr.InvalidIdempotencyKey()
	}
	id, err := uuid.Parse(raw)
	if err != nil || id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return "", apperr.InvalidIdempotencyKey()
	}
	return id.String(), nil
}
