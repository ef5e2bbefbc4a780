package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorSurvivesEncoding(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 5, time.FixedZone("x", 3600)), ID: uuid.New()}
	out, err := ParseCursor(EncodeCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, time.UTC, out.CreatedAt.Location())
	assert.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	for name, value := range map[string]string{
		"not base64":   "%%%",
		"not json":     base64.RawURLEncoding.EncodeToString([]byte("2026|x")),
		"missing id":   base64.RawURLEncoding.EncodeToString([]byte(`{"t":"2026-03-01T00:00:00Z"}`)),
		"missing time": base64.RawURLEncoding.EncodeToString([]byte(`{"id":"` + uuid.NewString() + `"}`)),
	} {
		_, err := ParseCursor(value)
		assert.ErrorIs(t, err, ErrInvalidCursor, name)
	}
}

func TestTrimProducesNextCursorOnlyWhenMoreRowsExist(t *testing.T) {
	now := time.Now()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	cursorOf := func(id uuid.UUID) Cursor { return Cursor{CreatedAt: now, ID: id} }

	page := Trim(ids, 2, cursorOf)
	require.Len(t, page.Items, 2)
	next, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, ids[1], next.ID)

	page = Trim(ids[:2], 2, cursorOf)
	assert.Len(t, page.Items, 2)
	assert.Empty(t, page.NextCursor)

	empty := Trim[uuid.UUID](nil, 2, cursorOf)
	assert.NotNil(t, empty.Items, "empty pages encode as []")
}

func TestCursorWhere(t *testing.T) {
	c := Cursor{CreatedAt: time.Unix(100, 0), ID: uuid.New()}
	clause, args := c.Where("orders.created_at", "orders.id")
	assert.Equal(t, "(orders.created_at < ?) OR (orders.created_at = ? AND orders.id < ?)", clause)
	assert.Equal(t, []any{c.CreatedAt, c.CreatedAt, c.ID}, args)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, 8, LimitWithBuffer(7))
}
