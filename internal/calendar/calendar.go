// Package calendar is the calendar backend behind the agent's calendar
// tools. Two providers exist: the Google Calendar REST API and any
// CalDAV server. Both are configured explicitly at construction; no
// credentials are read from the environment here.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider lists and creates events on one calendar.
type Provider interface {
	ListEvents(ctx context.Context, q Query) ([]Event, error)
	CreateEvent(ctx context.Context, ev NewEvent) (*Event, error)
}

// Query bounds a ListEvents call. Text, when set, is a free-text match
// on the event title and description.
type Query struct {
	Text    string
	TimeMin time.Time
	TimeMax time.Time
}

// Event is the summary the agent sees for one calendar entry. Field
// names follow the Google Calendar resource so the model gets the
// same shape from either provider.
type Event struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Status      string     `json:"status,omitempty"`
	Organizer   *Person    `json:"organizer,omitempty"`
	Start       EventTime  `json:"start"`
	End         EventTime  `json:"end"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	MeetingLink string     `json:"meetingLink,omitempty"`
	EventType   string     `json:"eventType,omitempty"`
}

// Person identifies an organizer.
type Person struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Self        bool   `json:"self,omitempty"`
}

// Attendee is an invited participant.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	Organizer      bool   `json:"organizer,omitempty"`
	Self           bool   `json:"self,omitempty"`
}

// EventTime is either a timed instant (DateTime, RFC 3339) or an
// all-day date (Date, YYYY-MM-DD).
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// NewEvent is a meeting to create. Invitations go to every attendee.
type NewEvent struct {
	Summary   string
	Start     EventTime
	End       EventTime
	Attendees []Attendee
}

// Time resolves t to an instant. A DateTime without offset is read in
// TimeZone, falling back to def; a Date is midnight in that zone.
func (t EventTime) Time(def *time.Location) (time.Time, error) {
	loc := def
	if loc == nil {
		loc = time.Local
	}
	if t.TimeZone != "" {
		l, err := time.LoadLocation(t.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("time zone %q: %w", t.TimeZone, err)
		}
		loc = l
	}
	switch {
	case t.DateTime != "":
		return ParseTime(t.DateTime, loc)
	case t.Date != "":
		return time.ParseInLocation(time.DateOnly, t.Date, loc)
	default:
		return time.Time{}, fmt.Errorf("event time has neither dateTime nor date")
	}
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseTime accepts the ISO-8601 forms models produce: RFC 3339 with an
// offset or Z, or a local date-time or date read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// Validate checks that the event has a title and a positive duration.
func (ev NewEvent) Validate(def *time.Location) error {
	if strings.TrimSpace(ev.Summary) == "" {
		return fmt.Errorf("summary is required")
	}
	start, err := ev.Start.Time(def)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := ev.End.Time(def)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if !end.After(start) {
		return fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	for i, a := range ev.Attendees {
		if !strings.Contains(a.Email, "@") {
			return fmt.Errorf("attendee %d: invalid email %q", i, a.Email)
		}
	}
	return nil
}
