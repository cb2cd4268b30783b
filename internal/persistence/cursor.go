// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"example.com/timetracking/internal/domain"
)

// ErrInvalidCursor is returned for tokens that were not produced by EncodeCursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor turns the position of the last returned entry into a URL-safe token.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := strconv.FormatInt(c.StartTime.UTC().UnixNano(), 10) + "." + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token from EncodeCursor. An empty token yields a nil cursor.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(decoded), ".")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &domain.Cursor{StartTime: time.Unix(0, ts).UTC(), ID: id}, nil
}

// After reports whether an entry at (start, id) sorts after the cursor in newest-first order.
func After(c *domain.Cursor, start time.Time, id string) bool {
	if c == nil {
		return true
	}
	if start.Equal(c.StartTime) {
		return id < c.ID
	}
	return start.Before(c.StartTime)
}
