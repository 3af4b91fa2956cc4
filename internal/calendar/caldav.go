package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/nugget/meetly/internal/buildinfo"
	"github.com/nugget/meetly/internal/httpkit"
)

// CalDAVOptions configures a CalDAV provider.
type CalDAVOptions struct {
	URL      string
	Username string
	Password string
	// Calendar is a collection path ("/dav/calendars/me/work/") or a
	// display name to look up in the calendar home set. Empty selects
	// the first calendar that accepts events.
	Calendar string
	// Location interprets floating times. Defaults to time.Local.
	Location *time.Location
}

// CalDAV reads and writes VEVENTs on a CalDAV collection.
type CalDAV struct {
	client *caldav.Client
	opts   CalDAVOptions
	logger *slog.Logger

	mu   sync.Mutex
	path string // resolved collection path
}

// NewCalDAV connects lazily; the collection is discovered on first use.
func NewCalDAV(opts CalDAVOptions, logger *slog.Logger) (*CalDAV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	var hc webdav.HTTPClient = httpkit.NewClient()
	if opts.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, opts.Username, opts.Password)
	}
	client, err := caldav.NewClient(hc, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	c := &CalDAV{client: client, opts: opts, logger: logger.With("calendar", "caldav")}
	if strings.HasPrefix(opts.Calendar, "/") {
		c.path = opts.Calendar
	}
	return c, nil
}

// collection resolves and caches the calendar collection path.
func (c *CalDAV) collection(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		return c.path, nil
	}

	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := c.client.FindCalendars(ctx, home)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	p, ok := pickCalendar(cals, c.opts.Calendar)
	if !ok {
		return "", fmt.Errorf("no calendar matching %q under %s", c.opts.Calendar, home)
	}
	c.logger.Info("caldav calendar selected", "path", p)
	c.path = p
	return p, nil
}

func pickCalendar(cals []caldav.Calendar, want string) (string, bool) {
	for _, cal := range cals {
		if want != "" && !strings.EqualFold(cal.Name, want) && path.Base(strings.TrimRight(cal.Path, "/")) != want {
			continue
		}
		if len(cal.SupportedComponentSet) > 0 && !contains(cal.SupportedComponentSet, ical.CompEvent) {
			continue
		}
		return cal.Path, true
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ListEvents runs a time-range calendar-query REPORT. Text matching is
// done client-side because server support for text-match varies.
func (c *CalDAV) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
			Expand: &caldav.CalendarExpandRequest{
				Start: q.TimeMin.UTC(),
				End:   q.TimeMax.UTC(),
			},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: q.TimeMin.UTC(),
				End:   q.TimeMax.UTC(),
			}},
		},
	}
	objs, err := c.client.QueryCalendar(ctx, coll, query)
	if err != nil {
		return nil, fmt.Errorf("calendar query: %w", err)
	}

	events := []Event{}
	needle := strings.ToLower(q.Text)
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range expandEvents(obj.Data.Events(), q.TimeMin, q.TimeMax, c.opts.Location) {
			if needle != "" && !matchesText(ev.source, needle) {
				continue
			}
			events = append(events, ev.Event)
		}
	}
	c.logger.Debug("events listed", "count", len(events), "objects", len(objs))
	return events, nil
}

// occurrence is one expanded instance and the VEVENT it came from.
type occurrence struct {
	Event
	source ical.Event
}

// expandEvents turns the VEVENTs of one calendar object into the
// instances that overlap [from, to). Servers that honor the expand
// request return instances already; for those that do not, a master
// with an RRULE is expanded here and instances overridden by a
// RECURRENCE-ID component are replaced by the override.
func expandEvents(evs []ical.Event, from, to time.Time, loc *time.Location) []occurrence {
	overridden := map[int64]bool{}
	for _, ev := range evs {
		if rid := ev.Props.Get(ical.PropRecurrenceID); rid != nil {
			if t, err := rid.DateTime(loc); err == nil {
				overridden[t.Unix()] = true
			}
		}
	}

	var out []occurrence
	for _, ev := range evs {
		if ev.Props.Get(ical.PropRecurrenceID) != nil {
			if overlaps(ev, from, to, loc) {
				out = append(out, occurrence{eventFromICal(ev, loc), ev})
			}
			continue
		}

		set, err := ev.RecurrenceSet(loc)
		if err != nil || set == nil {
			out = append(out, occurrence{eventFromICal(ev, loc), ev})
			continue
		}

		start, err := ev.DateTimeStart(loc)
		if err != nil {
			out = append(out, occurrence{eventFromICal(ev, loc), ev})
			continue
		}
		var dur time.Duration
		if end, err := ev.DateTimeEnd(loc); err == nil && end.After(start) {
			dur = end.Sub(start)
		}
		startProp := ev.Props.Get(ical.PropDateTimeStart)
		allDay := startProp.ValueType() == ical.ValueDate
		tzid := startProp.Params.Get(ical.ParamTimezoneID)

		base := eventFromICal(ev, loc)
		for _, t := range set.Between(from.Add(-dur), to, true) {
			if overridden[t.Unix()] || !inWindow(t, t.Add(dur), from, to) {
				continue
			}
			inst := base
			inst.ID = base.ID + "_" + t.UTC().Format("20060102T150405Z")
			inst.Start = instanceTime(t, allDay, tzid)
			inst.End = instanceTime(t.Add(dur), allDay, tzid)
			out = append(out, occurrence{inst, ev})
		}
	}
	return out
}

func overlaps(ev ical.Event, from, to time.Time, loc *time.Location) bool {
	start, err := ev.DateTimeStart(loc)
	if err != nil {
		return true
	}
	end, err := ev.DateTimeEnd(loc)
	if err != nil || end.Before(start) {
		end = start
	}
	return inWindow(start, end, from, to)
}

// inWindow reports whether [start, end) meets [from, to). A zero-length
// event counts when it starts inside the window.
func inWindow(start, end, from, to time.Time) bool {
	if !start.Before(to) {
		return false
	}
	if end.Equal(start) {
		return !start.Before(from)
	}
	return end.After(from)
}

func instanceTime(t time.Time, allDay bool, tzid string) EventTime {
	if allDay {
		return EventTime{Date: t.Format(time.DateOnly)}
	}
	return EventTime{DateTime: t.Format(time.RFC3339), TimeZone: tzid}
}

func matchesText(ev ical.Event, needle string) bool {
	for _, prop := range []string{ical.PropSummary, ical.PropDescription, ical.PropLocation} {
		v, _ := ev.Props.Text(prop)
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

// CreateEvent PUTs a new calendar object named after its UID. Scheduling
// servers deliver invitations to the ATTENDEEs.
func (c *CalDAV) CreateEvent(ctx context.Context, ev NewEvent) (*Event, error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	uid := uuid.NewString()
	cal, err := calendarFromNewEvent(uid, ev, c.opts.Location, time.Now())
	if err != nil {
		return nil, err
	}
	objPath := strings.TrimRight(coll, "/") + "/" + uid + ".ics"
	if _, err := c.client.PutCalendarObject(ctx, objPath, cal); err != nil {
		return nil, fmt.Errorf("put calendar object: %w", err)
	}
	out := eventFromICal(cal.Events()[0], c.opts.Location)
	c.logger.Info("event created", "id", out.ID, "path", objPath, "attendees", len(out.Attendees))
	return &out, nil
}

// calendarFromNewEvent renders ev as a VCALENDAR with one VEVENT.
func calendarFromNewEvent(uid string, ev NewEvent, loc *time.Location, now time.Time) (*ical.Calendar, error) {
	start, err := ev.Start.Time(loc)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := ev.End.Time(loc)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	// TZID must name a real zone.
	if start.Location() == time.Local {
		start, end = start.UTC(), end.UTC()
	}

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)
	vevent.Props.SetText(ical.PropSummary, ev.Summary)
	vevent.Props.SetText(ical.PropStatus, "CONFIRMED")
	for _, a := range ev.Attendees {
		prop := ical.NewProp(ical.PropAttendee)
		prop.Value = "mailto:" + a.Email
		if a.DisplayName != "" {
			prop.Params.Set(ical.ParamCommonName, a.DisplayName)
		}
		prop.Params.Set(ical.ParamRSVP, "TRUE")
		prop.Params.Set(ical.ParamParticipationStatus, "NEEDS-ACTION")
		vevent.Props.Add(prop)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//meetly//"+buildinfo.Version+"//EN")
	cal.Children = append(cal.Children, vevent.Component)
	return cal, nil
}

// eventFromICal maps a VEVENT onto the provider-neutral Event.
func eventFromICal(ev ical.Event, loc *time.Location) Event {
	text := func(name string) string {
		v, _ := ev.Props.Text(name)
		return v
	}
	out := Event{
		ID:        text(ical.PropUID),
		Summary:   text(ical.PropSummary),
		Status:    strings.ToLower(text(ical.PropStatus)),
		EventType: "default",
	}
	if out.Status == "" {
		out.Status = "confirmed"
	}
	out.Start = icalTime(ev.Props.Get(ical.PropDateTimeStart), loc)
	out.End = icalTime(ev.Props.Get(ical.PropDateTimeEnd), loc)
	if u := ev.Props.Get(ical.PropURL); u != nil {
		out.MeetingLink = u.Value
	}
	if org := ev.Props.Get(ical.PropOrganizer); org != nil {
		out.Organizer = &Person{
			Email:       strings.TrimPrefix(strings.ToLower(org.Value), "mailto:"),
			DisplayName: org.Params.Get(ical.ParamCommonName),
		}
	}
	for _, p := range ev.Props.Values(ical.PropAttendee) {
		out.Attendees = append(out.Attendees, Attendee{
			Email:          strings.TrimPrefix(strings.ToLower(p.Value), "mailto:"),
			DisplayName:    p.Params.Get(ical.ParamCommonName),
			ResponseStatus: responseStatus(p.Params.Get(ical.ParamParticipationStatus)),
		})
	}
	return out
}

func icalTime(p *ical.Prop, loc *time.Location) EventTime {
	if p == nil {
		return EventTime{}
	}
	if p.ValueType() == ical.ValueDate {
		t, err := p.DateTime(loc)
		if err != nil {
			return EventTime{}
		}
		return EventTime{Date: t.Format(time.DateOnly)}
	}
	t, err := p.DateTime(loc)
	if err != nil {
		return EventTime{}
	}
	et := EventTime{DateTime: t.Format(time.RFC3339)}
	if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
		et.TimeZone = tzid
	}
	return et
}

// responseStatus maps PARTSTAT onto Google's responseStatus values.
func responseStatus(partstat string) string {
	switch strings.ToUpper(partstat) {
	case "ACCEPTED":
		return "accepted"
	case "DECLINED":
		return "declined"
	case "TENTATIVE":
		return "tentative"
	default:
		return "needsAction"
	}
}
