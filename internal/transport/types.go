// Package transport defines the platform notification surface contract.
package transport

import (
	"context"
	"net/url"
	"strings"
)

// Permission mirrors the platform notification permission of a user.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "default"
}

// PlatformNotification is one OS-level style notification. URL is the
// click-through target; Tag identifies the item it announces.
type PlatformNotification struct {
	UserID string
	Title  string
	Body   string
	Tag    string
	URL    string
}

// Surface delivers platform notifications.
type Surface interface {
	Name() string
	Permission(ctx context.Context, userID string) Permission
	Deliver(ctx context.Context, n PlatformNotification) error
}

// JoinURL joins an application base URL and a navigation path. An absolute
// or scheme-relative target is kept only when it lies under base; any other
// target resolves to the application root.
func JoinURL(base, path string) string {
	p := strings.TrimSpace(path)
	b := strings.TrimRight(strings.TrimSpace(base), "/")
	if !isRelativePath(p) {
		if b != "" && (p == b || strings.HasPrefix(p, b+"/")) {
			return p
		}
		p = ""
	}
	if b == "" {
		if p == "" {
			return "/"
		}
		return p
	}
	if p == "" {
		return b + "/"
	}
	return b + "/" + strings.TrimLeft(p, "/")
}

// isRelativePath reports whether p has neither scheme nor authority.
// Backslashes are rejected since browsers read "/\host" as "//host".
func isRelativePath(p string) bool {
	if strings.HasPrefix(p, "//") || strings.ContainsRune(p, '\\') {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}
