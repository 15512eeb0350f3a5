// Package ident generates time-ordered identifiers for audit records
// and domain objects.
package ident

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"
)

// NewString returns a UUIDv7 string per RFC 9562 (time-ordered,
// millisecond precision). Audit records sort by creation time when
// sorted lexically.
func NewString() (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "", err
	}

	ms := uint64(time.Now().UnixMilli())
	b[0] = byte(ms >> 40)
	b[1] = byte(ms >> 32)
	b[2] = byte(ms >> 24)
	b[3] = byte(ms >> 16)
	b[4] = byte(ms >> 8)
	b[5] = byte(ms)

	// Version 7 (0b0111)
	b[6] = (b[6] & 0x0f) | 0x70
	// Variant RFC 4122 (0b10xxxxxx)
	b[8] = (b[8] & 0x3f) | 0x80

	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// MustNewString is NewString for callers with no error path. It panics
// only when the system randomness source fails.
func MustNewString() string {
	s, err := NewString()
	if err != nil {
		panic(err)
	}
	return s
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
