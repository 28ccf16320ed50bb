package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinURL(t *testing.T) {
	t.Parallel()
	tests := []struct{ base, path, want string }{
		{"https://app.example.org", "/meetings/7", "https://app.example.org/meetings/7"},
		{"https://app.example.org/", "meetings/7", "https://app.example.org/meetings/7"},
		{"https://app.example.org/base/", "/x", "https://app.example.org/base/x"},
		{"", "/calendar", "/calendar"},
		{"https://app.example.org", "", "https://app.example.org/"},
		{"https://app.example.org", "https://app.example.org/docs/3", "https://app.example.org/docs/3"},
		{"https://app.example.org", "https://elsewhere.example.org/y", "https://app.example.org/"},
		{"https://app.example.org", "https://app.example.org.evil.test/y", "https://app.example.org/"},
		{"https://app.example.org", "//evil.test/y", "https://app.example.org/"},
		{"https://app.example.org", "/\\evil.test/y", "https://app.example.org/"},
		{"https://app.example.org", "javascript:alert(1)", "https://app.example.org/"},
		{"", "https://evil.test/y", "/"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, JoinURL(tt.base, tt.path), tt.base+" + "+tt.path)
	}
}

func TestBuiltinSurfaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	require.Equal(t, PermissionDenied, Disabled{}.Permission(ctx, "u1"))
	require.Equal(t, PermissionGranted, LogSurface{}.Permission(ctx, "u1"))
	require.NoError(t, LogSurface{}.Deliver(ctx, PlatformNotification{UserID: "u1", Title: "t"}))
	require.Equal(t, "granted", PermissionGranted.String())
}
