package notification

import (
	"strconv"
	"strings"
	"time"
)

// Category is the dedup bucket an item belongs to.
type Category string

const (
	CategoryCalendar Category = "calendar"
	CategoryMeeting  Category = "meeting"
	CategoryDocument Category = "document"
	CategoryActivity Category = "activity"
)

// Categories lists every known category in a stable order.
var Categories = []Category{CategoryCalendar, CategoryMeeting, CategoryDocument, CategoryActivity}

func (c Category) Valid() bool {
	switch c {
	case CategoryCalendar, CategoryMeeting, CategoryDocument, CategoryActivity:
		return true
	}
	return false
}

// ParseCategory maps a free-form name onto a Category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Item is one delivered (or deliverable) notification.
type Item struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Message        string   `json:"message"`
	Timestamp      string   `json:"timestamp"`
	Read           bool     `json:"read"`
	NavigationPath string   `json:"navigationPath"`
	Category       Category `json:"category"`
}

// Key builds the composite id "<category>_<sourceID>[_<sub>]".
func Key(c Category, sourceID string, sub ...string) string {
	var b strings.Builder
	b.WriteString(string(c))
	b.WriteByte('_')
	b.WriteString(sourceID)
	for _, s := range sub {
		if s == "" {
			continue
		}
		b.WriteByte('_')
		b.WriteString(s)
	}
	return b.String()
}

// LeadKey builds the reminder key "<category>_<sourceID>_<leadMinutes>".
func LeadKey(c Category, sourceID string, leadMinutes int) string {
	return Key(c, sourceID, strconv.Itoa(leadMinutes))
}

// FormatTimestamp renders t the way items store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Unread counts items whose read flag is false.
func Unread(items []Item) int {
	n := 0
	for _, it := range items {
		if !it.Read {
			n++
		}
	}
	return n
}
