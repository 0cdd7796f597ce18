package pagination

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Size())
	require.Equal(t, 5, Pagination{Limit: 5}.Size())
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Size())
}

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: "2025-06-10T08:00:00.123456789Z", ID: "1794829734583533568"}
	token, err := EncodeCursor(in)
	require.NoError(t, err)
	require.NotContains(t, token, "=")

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, in, *out)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm90LWpzb24", "e30"} {
		_, err := DecodeCursor(token)
		require.True(t, errors.Is(err, ErrInvalidCursor), token)
	}
}

type row struct{ id string }

func TestPage(t *testing.T) {
	rows := make([]*row, 0, 3)
	for i := 0; i < 3; i++ {
		rows = append(rows, &row{id: fmt.Sprint(i)})
	}
	cursorOf := func(r *row) Cursor { return Cursor{ID: r.id} }

	got, info, err := Page(rows, Pagination{Limit: 2}, cursorOf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, info.HasMore)

	c, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "1", c.ID)

	got, info, err = Page(rows[:2], Pagination{Limit: 2, Cursor: info.NextCursor}, cursorOf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
	require.NotEmpty(t, info.PreviousCursor)
}
