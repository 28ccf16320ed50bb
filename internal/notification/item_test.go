package notification

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	t.Parallel()
	require.Equal(t, "meeting_42_5", LeadKey(CategoryMeeting, "42", 5))
	require.Equal(t, "activity_7_created", Key(CategoryActivity, "7", "created"))
	require.Equal(t, "document_9", Key(CategoryDocument, "9", ""))
}

func TestParseCategory(t *testing.T) {
	t.Parallel()
	c, ok := ParseCategory(" Meeting ")
	require.True(t, ok)
	require.Equal(t, CategoryMeeting, c)

	_, ok = ParseCategory("review")
	require.False(t, ok)
}

func TestUnread(t *testing.T) {
	t.Parallel()
	items := []Item{{ID: "a"}, {ID: "b", Read: true}, {ID: "c"}}
	require.Equal(t, 2, Unread(items))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	err := PersistenceError("set", "history:u1", io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.False(t, errors.Is(err, ErrParse))
	require.Equal(t, "persistence error: set history:u1: unexpected EOF", err.Error())

	var ne *Error
	require.ErrorAs(t, Errorf("candidate", "c1", "bad date %q", "x"), &ne)
	require.Equal(t, ErrParse, ne.Kind)
}
