package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-4))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
}

func TestCursorEncodeParse(t *testing.T) {
	at := time.Date(2026, 4, 2, 9, 30, 0, 123456789, time.FixedZone("x", 3600))
	cursor := Cursor{At: at, ID: uuid.New()}

	token := cursor.Encode()
	assert.NotContains(t, token, "=")

	parsed, err := ParseCursor(token)
	require.NoError(t, err)
	assert.True(t, parsed.At.Equal(at))
	assert.Equal(t, cursor.ID, parsed.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	parsed, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, parsed)

	for _, token := range []string{"not-a-cursor!", "bm8tc2VwYXJhdG9y", Cursor{}.Encode()[:10]} {
		_, err := ParseCursor(token)
		assert.True(t, errors.Is(err, ErrInvalidCursor), "token %q", token)
	}
}

func TestCursorAfter(t *testing.T) {
	cursor := Cursor{At: time.Unix(100, 0), ID: uuid.New()}
	clause, args := cursor.After("payments.paid_at", "payments.id")
	assert.Equal(t, "(payments.paid_at < ?) OR (payments.paid_at = ? AND payments.id < ?)", clause)
	assert.Equal(t, []any{cursor.At, cursor.At, cursor.ID}, args)
}

func TestTrim(t *testing.T) {
	rows := []int{1, 2, 3}
	key := func(v int) Cursor { return Cursor{At: time.Unix(int64(v), 0)} }

	kept, next := Trim(rows, 2, key)
	assert.Equal(t, []int{1, 2}, kept)
	require.NotNil(t, next)
	assert.Equal(t, int64(2), next.At.Unix())

	kept, next = Trim(rows, 3, key)
	assert.Len(t, kept, 3)
	assert.Nil(t, next)
}
