package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"nudge/internal/notification"
)

const (
	// DefaultLead applies when neither the category nor the item fixes one.
	DefaultLead = 15 * time.Minute
	// DefaultDueTail is how long after its start an item stays due.
	DefaultDueTail = 60 * time.Minute
	// FixedShortLead is the lead of meetings and personal calendar entries.
	FixedShortLead = 5 * time.Minute
)

const personalEntryType = "personal"

var (
	errNoStart = errors.New("no date or timestamp")
	errNoID    = errors.New("missing id")
)

// Evaluator computes due items. The zero value uses DefaultDueTail and the
// local timezone.
type Evaluator struct {
	Tail     time.Duration
	Location *time.Location
	// OnInvalid observes candidates dropped with a ParseError.
	OnInvalid func(c Candidate, err error)
}

// ComputeDue returns the items of candidates due at now with the default
// tail and local time.
func ComputeDue(candidates []Candidate, now time.Time, defaultLead time.Duration) []notification.Item {
	return Evaluator{}.Due(candidates, now, defaultLead)
}

// Due returns one item per candidate with now in [start-lead, start+tail],
// in candidate order. Item ids are "<category>_<id>_<leadMinutes>".
func (e Evaluator) Due(candidates []Candidate, now time.Time, defaultLead time.Duration) []notification.Item {
	tail := e.Tail
	if tail <= 0 {
		tail = DefaultDueTail
	}
	out := make([]notification.Item, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c.ID) == "" {
			e.invalid(c, notification.ParseError("candidate", string(c.Kind), errNoID))
			continue
		}
		start, err := e.Start(c)
		if err != nil {
			e.invalid(c, err)
			continue
		}
		lead := Lead(c, defaultLead)
		if now.Before(start.Add(-lead)) || now.After(start.Add(tail)) {
			continue
		}
		out = append(out, buildItem(c, start, lead, now))
	}
	return out
}

func (e Evaluator) invalid(c Candidate, err error) {
	if e.OnInvalid != nil {
		e.OnInvalid(c, err)
	}
}

// Lead resolves the reminder lead of c.
func Lead(c Candidate, defaultLead time.Duration) time.Duration {
	switch {
	case c.Kind == notification.CategoryMeeting:
		return FixedShortLead
	case c.Kind == notification.CategoryCalendar && strings.EqualFold(strings.TrimSpace(c.EntryType), personalEntryType):
		return FixedShortLead
	case c.Kind == notification.CategoryDocument, c.Kind == notification.CategoryActivity:
		return 0
	case c.ReminderMinutes != nil && *c.ReminderMinutes >= 0:
		return time.Duration(*c.ReminderMinutes) * time.Minute
	case defaultLead >= 0:
		return defaultLead
	default:
		return DefaultLead
	}
}

var (
	dateLayouts      = []string{"2006-01-02", "2006/01/02", "02.01.2006"}
	timeLayouts      = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM"}
	timestampLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"}
)

// Start resolves the start instant of c. A missing or unparsable time of
// day falls back to midnight of the date.
func (e Evaluator) Start(c Candidate) (time.Time, error) {
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	if d := strings.TrimSpace(c.Date); d != "" {
		day, err := parseDate(d, loc)
		if err != nil {
			return time.Time{}, notification.ParseError("date", c.ID, err)
		}
		if h, m, s, ok := parseClock(c.Time); ok {
			return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc), nil
		}
		return day, nil
	}
	if ts := strings.TrimSpace(c.Timestamp); ts != "" {
		t, err := parseTimestamp(ts, loc)
		if err != nil {
			return time.Time{}, notification.ParseError("timestamp", c.ID, err)
		}
		return t, nil
	}
	return time.Time{}, notification.ParseError("start", c.ID, errNoStart)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	// Date fields sometimes carry a full timestamp; keep only its calendar day.
	if t, err := parseTimestamp(s, loc); err == nil {
		t = t.In(loc)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseClock(s string) (h, m, sec int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, 0, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), t.Second(), true
		}
	}
	return 0, 0, 0, false
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func buildItem(c Candidate, start time.Time, lead time.Duration, now time.Time) notification.Item {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = defaultTitle(c.Kind)
	}
	msg := strings.TrimSpace(c.Message)
	if msg == "" {
		msg = defaultMessage(c.Kind, start, now)
	}
	nav := strings.TrimSpace(c.NavigationPath)
	if nav == "" {
		nav = defaultPath(c.Kind, c.ID)
	}
	return notification.Item{
		ID:             notification.LeadKey(c.Kind, c.ID, int(lead/time.Minute)),
		Title:          title,
		Message:        msg,
		Timestamp:      notification.FormatTimestamp(now),
		NavigationPath: nav,
		Category:       c.Kind,
	}
}

func defaultTitle(k notification.Category) string {
	switch k {
	case notification.CategoryCalendar:
		return "Upcoming event"
	case notification.CategoryMeeting:
		return "Meeting starting soon"
	case notification.CategoryDocument:
		return "New document"
	default:
		return "New activity"
	}
}

func defaultMessage(k notification.Category, start, now time.Time) string {
	switch k {
	case notification.CategoryCalendar, notification.CategoryMeeting:
		if start.After(now) {
			return "Starts at " + start.Format("15:04")
		}
		return "Started at " + start.Format("15:04")
	case notification.CategoryDocument:
		return "Uploaded at " + start.Format("15:04")
	default:
		return ""
	}
}

func defaultPath(k notification.Category, id string) string {
	switch k {
	case notification.CategoryCalendar:
		return "/calendar"
	case notification.CategoryMeeting:
		return "/meetings/" + id
	case notification.CategoryDocument:
		return "/documents/" + id
	default:
		return "/activity"
	}
}
