package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	want := Cursor{
		CreatedAt: time.Date(2026, 3, 4, 10, 30, 0, 123456000, time.UTC),
		ID:        uuid.New(),
	}

	encoded := EncodeCursor(want)
	got, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)
}

func TestParseCursorEmpty(t *testing.T) {
	t.Parallel()

	got, err := ParseCursor("   ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseCursorInvalid(t *testing.T) {
	t.Parallel()

	_, err := ParseCursor("not-base64!!!")
	assert.Error(t, err)

	_, err = ParseCursor("bm8tc2VwYXJhdG9y") // "no-separator"
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	t.Parallel()

	type row struct {
		id        uuid.UUID
		createdAt time.Time
	}
	at := func(r row) Cursor { return Cursor{CreatedAt: r.createdAt, ID: r.id} }

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, 4)
	for i := range rows {
		rows[i] = row{id: uuid.New(), createdAt: base.Add(time.Duration(-i) * time.Minute)}
	}

	trimmed, next := Page(rows, 3, at)
	require.Len(t, trimmed, 3)
	require.NotEmpty(t, next)

	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[2].id, cursor.ID)

	trimmed, next = Page(rows[:2], 3, at)
	assert.Len(t, trimmed, 2)
	assert.Empty(t, next)
}
