package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds keyset pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the keyset position of the last row on a page: its sort
// timestamp plus the row id as a tiebreaker.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// NormalizeLimit clamps limit to (0, MaxLimit], defaulting to DefaultLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	payload := c.At.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// After returns the WHERE clause and arguments selecting rows that sort
// after c in a (timeColumn DESC, idColumn DESC) listing.
func (c Cursor) After(timeColumn, idColumn string) (string, []any) {
	clause := fmt.Sprintf("(%[1]s < ?) OR (%[1]s = ? AND %[2]s < ?)", timeColumn, idColumn)
	return clause, []any{c.At, c.At, c.ID}
}

// ParseCursor decodes a token produced by Encode. An empty token means the
// first page and yields a nil cursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	at, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrInvalidCursor, err)
	}
	rowID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrInvalidCursor, err)
	}
	return &Cursor{At: ts, ID: rowID}, nil
}

// Trim cuts rows fetched with limit+1 down to limit. When the extra row was
// present it returns the cursor of the last kept row.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	if limit <= 0 || len(rows) <= limit {
		return rows, nil
	}
	next := key(rows[limit-1])
	return rows[:limit], &next
}
