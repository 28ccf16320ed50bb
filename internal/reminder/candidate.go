package reminder

import (
	"context"
	"strings"

	"nudge/internal/notification"
)

// Candidate is a backend record that may become a reminder.
//
// Start time comes from Date (+ optional Time of day) or, failing that, from
// Timestamp. ReminderMinutes, when set, overrides the source default lead
// except for categories with a fixed lead.
type Candidate struct {
	Kind            notification.Category
	ID              string
	Title           string
	Message         string
	Date            string
	Time            string
	Timestamp       string
	EntryType       string
	ReminderMinutes *int
	NavigationPath  string
	Owner           string
	Attendees       []string
}

// Source fetches the candidates of one kind for a user.
type Source interface {
	Kind() notification.Category
	Fetch(ctx context.Context, userID string) ([]Candidate, error)
}

type funcSource struct {
	kind notification.Category
	fn   func(ctx context.Context, userID string) ([]Candidate, error)
}

func (s funcSource) Kind() notification.Category { return s.kind }

func (s funcSource) Fetch(ctx context.Context, userID string) ([]Candidate, error) {
	return s.fn(ctx, userID)
}

// SourceFunc adapts a function to Source.
func SourceFunc(kind notification.Category, fn func(ctx context.Context, userID string) ([]Candidate, error)) Source {
	return funcSource{kind: kind, fn: fn}
}

// Visible reports whether userID may see c. Privileged users see everything;
// others only records they own or attend. Records without owner and
// attendee data are visible to everyone.
func Visible(c Candidate, userID string, privileged bool) bool {
	if privileged {
		return true
	}
	owner := strings.TrimSpace(c.Owner)
	if owner == "" && len(c.Attendees) == 0 {
		return true
	}
	if owner == userID {
		return true
	}
	for _, a := range c.Attendees {
		if strings.TrimSpace(a) == userID {
			return true
		}
	}
	return false
}
