package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()
	tokens, err := NewTokens("s3cret", "nudge", "push", time.Minute)
	require.NoError(t, err)

	tok, err := tokens.Issue("u1")
	require.NoError(t, err)
	sub, err := tokens.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", sub)
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tokens, err := NewTokens("s3cret", "nudge", "push", time.Minute)
	require.NoError(t, err)
	tokens.now = func() time.Time { return base }
	tok, err := tokens.Issue("u1")
	require.NoError(t, err)

	other, err := NewTokens("different", "nudge", "push", time.Minute)
	require.NoError(t, err)
	other.now = tokens.now
	_, err = other.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongAud, err := NewTokens("s3cret", "nudge", "api", time.Minute)
	require.NoError(t, err)
	wrongAud.now = tokens.now
	_, err = wrongAud.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	tokens.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = tokens.Verify(tok)
	require.ErrorIs(t, err, ErrTokenExpired)

	_, err = tokens.Verify("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := NewTokens("  ", "", "", 0)
	require.ErrorIs(t, err, ErrNoSecret)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	tok, ok := BearerToken("Bearer abc.def")
	require.True(t, ok)
	require.Equal(t, "abc.def", tok)
	tok, ok = BearerToken("bearer   xyz ")
	require.True(t, ok)
	require.Equal(t, "xyz", tok)
	_, ok = BearerToken("Basic Zm9v")
	require.False(t, ok)
	_, ok = BearerToken("Bearer ")
	require.False(t, ok)
}
