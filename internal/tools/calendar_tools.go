package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/meetly/internal/calendar"
)

// Tool names the model sees. They predate CalDAV support and stay the
// same whichever provider is configured.
const (
	GetEventsToolName   = "getGoogleCalendarEvents"
	CreateEventToolName = "createGoogleCalendarEvents"
)

// Fixed texts returned to the model on calendar failures.
const (
	FetchEventsFailed  = "Error occurred fetching events"
	CreateEventFailed  = "Couldn't create a meeting."
	CreateEventSuccess = "The meeting has been created."
)

// CalendarTools exposes p as the list and create capabilities. loc
// reads times that carry no offset.
type CalendarTools struct {
	provider calendar.Provider
	loc      *time.Location
	logger   *slog.Logger
}

// NewCalendarTools wraps a calendar provider.
func NewCalendarTools(p calendar.Provider, loc *time.Location, logger *slog.Logger) *CalendarTools {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarTools{provider: p, loc: loc, logger: logger}
}

// Capabilities returns the list and create tools.
func (ct *CalendarTools) Capabilities() []Capability {
	return []Capability{
		NewTool(GetEventsToolName, "Get a list of user meetings in google Calendar", getEventsSchema(), ct.getEvents),
		NewTool(CreateEventToolName, "Create a meeting in google Calendar", createEventSchema(), ct.createEvent),
	}
}

func getEventsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"q":       {Type: "string", Description: "The title or description of the event to search for"},
			"timeMin": {Type: "string", Description: "The start time in ISO format"},
			"timeMax": {Type: "string", Description: "The end time in ISO format"},
		},
		Required: []string{"timeMin", "timeMax"},
	}
}

func eventTimeSchema(which string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"dateTime": {Type: "string", Description: "The date time of " + which + " of the event."},
			"timeZone": {Type: "string", Description: "Current IANA timezone string."},
		},
		Required: []string{"dateTime", "timeZone"},
	}
}

func createEventSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"summary": {Type: "string", Description: "The title of the event"},
			"start":   eventTimeSchema("start"),
			"end":     eventTimeSchema("end"),
			"attendees": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"email":       {Type: "string", Description: "The email of the attendee"},
						"displayName": {Type: "string", Description: "The name of the attendee."},
					},
					Required: []string{"email"},
				},
			},
		},
		Required: []string{"summary", "start", "end", "attendees"},
	}
}

func (ct *CalendarTools) getEvents(ctx context.Context, args map[string]any) (string, error) {
	q, _ := args["q"].(string)
	minStr, _ := args["timeMin"].(string)
	maxStr, _ := args["timeMax"].(string)

	timeMin, err := calendar.ParseTime(minStr, ct.loc)
	if err != nil {
		return "", Fail(FetchEventsFailed, err)
	}
	timeMax, err := calendar.ParseTime(maxStr, ct.loc)
	if err != nil {
		return "", Fail(FetchEventsFailed, err)
	}

	ct.logger.Debug("fetching events", "q", q, "time_min", timeMin, "time_max", timeMax)
	events, err := ct.provider.ListEvents(ctx, calendar.Query{Text: q, TimeMin: timeMin, TimeMax: timeMax})
	if err != nil {
		return "", Fail(FetchEventsFailed, err)
	}
	if events == nil {
		events = []calendar.Event{}
	}
	out, err := json.Marshal(events)
	if err != nil {
		return "", Fail(FetchEventsFailed, err)
	}
	return string(out), nil
}

type createEventArgs struct {
	Summary   string              `json:"summary"`
	Start     calendar.EventTime  `json:"start"`
	End       calendar.EventTime  `json:"end"`
	Attendees []calendar.Attendee `json:"attendees"`
}

func (ct *CalendarTools) createEvent(ctx context.Context, args map[string]any) (string, error) {
	var in createEventArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", Fail(CreateEventFailed, err)
	}
	ev := calendar.NewEvent{
		Summary:   in.Summary,
		Start:     in.Start,
		End:       in.End,
		Attendees: in.Attendees,
	}
	if err := ev.Validate(ct.loc); err != nil {
		return "", Fail(CreateEventFailed, err)
	}
	if _, err := ct.provider.CreateEvent(ctx, ev); err != nil {
		return "", Fail(CreateEventFailed, err)
	}
	return CreateEventSuccess, nil
}

// decodeArgs converts validated arguments into a typed struct.
func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
