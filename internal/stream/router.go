package stream

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"nudge/internal/notification"
)

var errMissingID = errors.New("data.id missing")

// Prefix maps a frame type prefix onto a category.
type Prefix struct {
	Prefix   string
	Category notification.Category
}

// DefaultPrefixes routes frame types; unmatched types are activity.
var DefaultPrefixes = []Prefix{
	{Prefix: "calendar.", Category: notification.CategoryCalendar},
	{Prefix: "standup.", Category: notification.CategoryMeeting},
	{Prefix: "meeting.", Category: notification.CategoryMeeting},
	{Prefix: "document.", Category: notification.CategoryDocument},
}

// Router turns push frames into items.
type Router struct {
	Prefixes []Prefix
	// Now stamps items whose payload has no timestamp.
	Now func() time.Time
}

// Classify returns the category of a frame type.
func (r Router) Classify(msgType string) notification.Category {
	prefixes := r.Prefixes
	if prefixes == nil {
		prefixes = DefaultPrefixes
	}
	t := strings.ToLower(strings.TrimSpace(msgType))
	for _, p := range prefixes {
		if strings.HasPrefix(t, p.Prefix) {
			return p.Category
		}
	}
	return notification.CategoryActivity
}

type payload struct {
	ID             json.RawMessage `json:"id"`
	Title          string          `json:"title"`
	Name           string          `json:"name"`
	Message        string          `json:"message"`
	Description    string          `json:"description"`
	Timestamp      string          `json:"timestamp"`
	CreatedAt      string          `json:"createdAt"`
	NavigationPath string          `json:"navigationPath"`
}

// Item converts m into an item with id "<category>_<data.id>_<verb>".
// Frames without a usable data.id are ParseErrors.
func (r Router) Item(m Message) (notification.Item, error) {
	cat := r.Classify(m.Type)
	var p payload
	if len(m.Data) == 0 {
		return notification.Item{}, notification.ParseError("frame", m.Type, errMissingID)
	}
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return notification.Item{}, notification.ParseError("frame", m.Type, err)
	}
	id, err := rawID(p.ID)
	if err != nil {
		return notification.Item{}, notification.ParseError("frame", m.Type, err)
	}

	verb := m.Type
	if i := strings.LastIndexByte(verb, '.'); i >= 0 {
		verb = verb[i+1:]
	}
	ts := firstNonEmpty(p.Timestamp, p.CreatedAt)
	if ts == "" {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		ts = notification.FormatTimestamp(now())
	}
	title := firstNonEmpty(p.Title, p.Name)
	if title == "" {
		title = humanize(m.Type)
	}
	nav := strings.TrimSpace(p.NavigationPath)
	if nav == "" {
		nav = "/" + string(cat)
	}
	return notification.Item{
		ID:             notification.Key(cat, id, verb),
		Title:          title,
		Message:        firstNonEmpty(p.Message, p.Description),
		Timestamp:      ts,
		NavigationPath: nav,
		Category:       cat,
	}, nil
}

func rawID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errMissingID
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return "", errMissingID
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errMissingID
	}
	return n.String(), nil
}

// humanize renders "document.uploaded" as "Document uploaded".
func humanize(t string) string {
	s := strings.TrimSpace(strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(t))
	if s == "" {
		return "New activity"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
