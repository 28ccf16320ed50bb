package transport

import (
	"context"

	logx "nudge/pkg/logx"
)

// Disabled denies every user; notifications stay in-app only.
type Disabled struct{}

func (Disabled) Name() string { return "none" }

func (Disabled) Permission(context.Context, string) Permission { return PermissionDenied }

func (Disabled) Deliver(context.Context, PlatformNotification) error { return nil }

// LogSurface grants every user and writes notifications to the log.
type LogSurface struct {
	Log logx.Logger
}

func (LogSurface) Name() string { return "log" }

func (LogSurface) Permission(context.Context, string) Permission { return PermissionGranted }

func (s LogSurface) Deliver(_ context.Context, n PlatformNotification) error {
	s.Log.Info("platform notification",
		logx.String("user", n.UserID),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.String("tag", n.Tag),
		logx.String("url", n.URL),
	)
	return nil
}
