package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nudge/internal/notification"
)

func intPtr(v int) *int { return &v }

func meetingAt(id string, start time.Time) Candidate {
	return Candidate{Kind: notification.CategoryMeeting, ID: id, Timestamp: start.Format(time.RFC3339)}
}

func TestDueWindowBoundaries(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		offset time.Duration
		due    bool
	}{
		{name: "inside lead", offset: 4 * time.Minute, due: true},
		{name: "before lead", offset: 10 * time.Minute, due: false},
		{name: "inside tail", offset: -50 * time.Minute, due: true},
		{name: "after tail", offset: -70 * time.Minute, due: false},
		{name: "lead edge", offset: 5 * time.Minute, due: true},
		{name: "tail edge", offset: -60 * time.Minute, due: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDue([]Candidate{meetingAt("m1", now.Add(tt.offset))}, now, DefaultLead)
			if tt.due {
				require.Len(t, got, 1)
				require.Equal(t, "meeting_m1_5", got[0].ID)
			} else {
				require.Empty(t, got)
			}
		})
	}
}

func TestLeadResolution(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		c    Candidate
		want time.Duration
	}{
		{name: "meeting ignores configured lead", c: Candidate{Kind: notification.CategoryMeeting, ReminderMinutes: intPtr(30)}, want: 5 * time.Minute},
		{name: "personal calendar entry", c: Candidate{Kind: notification.CategoryCalendar, EntryType: "Personal", ReminderMinutes: intPtr(30)}, want: 5 * time.Minute},
		{name: "calendar configured lead", c: Candidate{Kind: notification.CategoryCalendar, ReminderMinutes: intPtr(30)}, want: 30 * time.Minute},
		{name: "calendar default", c: Candidate{Kind: notification.CategoryCalendar}, want: 15 * time.Minute},
		{name: "document", c: Candidate{Kind: notification.CategoryDocument, ReminderMinutes: intPtr(30)}, want: 0},
		{name: "activity", c: Candidate{Kind: notification.CategoryActivity}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Lead(tt.c, DefaultLead))
		})
	}
}

func TestStartResolution(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*3600)
	e := Evaluator{Location: loc}

	got, err := e.Start(Candidate{ID: "1", Date: "2026-03-02", Time: "14:30"})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, loc), got)

	got, err = e.Start(Candidate{ID: "2", Date: "2026-03-02", Time: "later"})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, loc), got, "invalid time of day falls back to midnight")

	got, err = e.Start(Candidate{ID: "3", Date: "2026-03-02"})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, loc), got)

	got, err = e.Start(Candidate{ID: "4", Timestamp: "2026-03-02T12:00:00Z"})
	require.NoError(t, err)
	require.True(t, got.Equal(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)))

	got, err = e.Start(Candidate{ID: "5", Date: "2026-03-02T23:30:00+02:00", Time: "08:15"})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 2, 8, 15, 0, 0, loc), got)

	_, err = e.Start(Candidate{ID: "6", Date: "yesterday"})
	require.True(t, errors.Is(err, notification.ErrParse))
	_, err = e.Start(Candidate{ID: "7"})
	require.True(t, errors.Is(err, notification.ErrParse))
}

func TestDueDropsInvalidCandidatesIndividually(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var dropped []error
	e := Evaluator{
		Location:  time.UTC,
		OnInvalid: func(_ Candidate, err error) { dropped = append(dropped, err) },
	}
	got := e.Due([]Candidate{
		{Kind: notification.CategoryCalendar, ID: "bad", Date: "nope"},
		{Kind: notification.CategoryCalendar, ID: "", Date: "2026-03-02", Time: "09:05"},
		{Kind: notification.CategoryCalendar, ID: "ok", Date: "2026-03-02", Time: "09:05", Title: "Standup"},
	}, now, DefaultLead)

	require.Len(t, got, 1)
	require.Equal(t, "calendar_ok_15", got[0].ID)
	require.Equal(t, "Standup", got[0].Title)
	require.Equal(t, "/calendar", got[0].NavigationPath)
	require.Equal(t, notification.FormatTimestamp(now), got[0].Timestamp)
	require.Len(t, dropped, 2)
}

func TestCustomTail(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := Candidate{Kind: notification.CategoryDocument, ID: "d1", Timestamp: now.Add(-20 * time.Minute).Format(time.RFC3339)}

	require.Len(t, Evaluator{}.Due([]Candidate{c}, now, DefaultLead), 1)
	require.Empty(t, Evaluator{Tail: 10 * time.Minute}.Due([]Candidate{c}, now, DefaultLead))
}

func TestVisible(t *testing.T) {
	t.Parallel()
	open := Candidate{ID: "1"}
	owned := Candidate{ID: "2", Owner: "u1"}
	attended := Candidate{ID: "3", Owner: "u9", Attendees: []string{"u2", "u1"}}
	foreign := Candidate{ID: "4", Owner: "u9", Attendees: []string{"u2"}}

	require.True(t, Visible(open, "u1", false))
	require.True(t, Visible(owned, "u1", false))
	require.True(t, Visible(attended, "u1", false))
	require.False(t, Visible(foreign, "u1", false))
	require.True(t, Visible(foreign, "u1", true))
}
