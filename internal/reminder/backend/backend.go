// Package backend reads reminder candidates from the application's HTTP API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nudge/internal/notification"
	"nudge/internal/reminder"
	logx "nudge/pkg/logx"
)

const defaultTimeout = 10 * time.Second

// maxBody caps a single source response.
const maxBody = 8 << 20

// TokenFunc mints the bearer token sent for userID. Empty means no header.
type TokenFunc func(userID string) (string, error)

type Config struct {
	BaseURL string
	// Paths are joined to BaseURL; "{user}" is replaced with the escaped
	// user id. An empty path disables the source.
	CalendarPath string
	MeetingPath  string
	DocumentPath string
	ActivityPath string
	Timeout      time.Duration
}

// Client builds reminder.Sources over one backend.
type Client struct {
	cfg   Config
	base  *url.URL
	http  *http.Client
	token TokenFunc
	log   logx.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithToken(fn TokenFunc) Option { return func(cl *Client) { cl.token = fn } }

func WithLogger(log logx.Logger) Option { return func(cl *Client) { cl.log = log } }

func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("backend: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", base.Scheme)
	}
	c := &Client{cfg: cfg, base: base}
	for _, fn := range opts {
		fn(c)
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c, nil
}

// Calendar fetches all calendar events.
func (c *Client) Calendar() reminder.Source {
	return c.source(notification.CategoryCalendar, c.cfg.CalendarPath)
}

// Meetings fetches the user's meetings.
func (c *Client) Meetings() reminder.Source {
	return c.source(notification.CategoryMeeting, c.cfg.MeetingPath)
}

// Documents fetches documents shared with the user.
func (c *Client) Documents() reminder.Source {
	return c.source(notification.CategoryDocument, c.cfg.DocumentPath)
}

// Activity fetches recent activity entries.
func (c *Client) Activity() reminder.Source {
	return c.source(notification.CategoryActivity, c.cfg.ActivityPath)
}

// Enabled reports whether the source of kind has a configured path.
func (c *Client) Enabled(kind notification.Category) bool {
	return strings.TrimSpace(c.pathFor(kind)) != ""
}

func (c *Client) pathFor(kind notification.Category) string {
	switch kind {
	case notification.CategoryCalendar:
		return c.cfg.CalendarPath
	case notification.CategoryMeeting:
		return c.cfg.MeetingPath
	case notification.CategoryDocument:
		return c.cfg.DocumentPath
	case notification.CategoryActivity:
		return c.cfg.ActivityPath
	}
	return ""
}

func (c *Client) source(kind notification.Category, path string) reminder.Source {
	return reminder.SourceFunc(kind, func(ctx context.Context, userID string) ([]reminder.Candidate, error) {
		if strings.TrimSpace(path) == "" {
			return nil, nil
		}
		raw, err := c.fetch(ctx, path, userID)
		if err != nil {
			return nil, notification.SourceFetchError(string(kind), err)
		}
		out := make([]reminder.Candidate, 0, len(raw))
		for i, r := range raw {
			cand, err := decodeRecord(kind, r)
			if err != nil {
				c.log.Debug("record dropped", logx.String("kind", string(kind)), logx.Int("index", i), logx.Err(err))
				continue
			}
			out = append(out, cand)
		}
		return out, nil
	})
}

func (c *Client) resolve(path, userID string) string {
	p := strings.ReplaceAll(path, "{user}", url.PathEscape(userID))
	ref, err := url.Parse(p)
	if err != nil {
		return c.base.String() + p
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) fetch(ctx context.Context, path, userID string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path, userID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		tok, err := c.token(userID)
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var out []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt struct {
	v  int
	ok bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return err
	}
	f.v, f.ok = n, true
	return nil
}

type record struct {
	ID              flexString   `json:"id"`
	Title           string       `json:"title"`
	Name            string       `json:"name"`
	Message         string       `json:"message"`
	Description     string       `json:"description"`
	Date            string       `json:"date"`
	Time            string       `json:"time"`
	StartTime       string       `json:"startTime"`
	Timestamp       string       `json:"timestamp"`
	StartsAt        string       `json:"startsAt"`
	CreatedAt       string       `json:"createdAt"`
	UploadedAt      string       `json:"uploadedAt"`
	Type            string       `json:"type"`
	ReminderMinutes flexInt      `json:"reminderMinutes"`
	NavigationPath  string       `json:"navigationPath"`
	Owner           flexString   `json:"owner"`
	Attendees       []flexString `json:"attendees"`
}

func decodeRecord(kind notification.Category, raw json.RawMessage) (reminder.Candidate, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return reminder.Candidate{}, notification.ParseError("record", string(kind), err)
	}
	id := strings.TrimSpace(string(r.ID))
	if id == "" {
		return reminder.Candidate{}, notification.Errorf("record", string(kind), "missing id")
	}
	c := reminder.Candidate{
		Kind:           kind,
		ID:             id,
		Title:          firstNonEmpty(r.Title, r.Name),
		Message:        firstNonEmpty(r.Message, r.Description),
		Date:           r.Date,
		Time:           firstNonEmpty(r.Time, r.StartTime),
		Timestamp:      firstNonEmpty(r.Timestamp, r.StartsAt, r.UploadedAt, r.CreatedAt),
		EntryType:      r.Type,
		NavigationPath: r.NavigationPath,
		Owner:          string(r.Owner),
	}
	if r.ReminderMinutes.ok {
		v := r.ReminderMinutes.v
		c.ReminderMinutes = &v
	}
	for _, a := range r.Attendees {
		if s := strings.TrimSpace(string(a)); s != "" {
			c.Attendees = append(c.Attendees, s)
		}
	}
	return c, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
