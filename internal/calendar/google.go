package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nugget/meetly/internal/httpkit"
)

const (
	googleAPIBase  = "https://www.googleapis.com/calendar/v3"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

// GoogleOptions configures a Google Calendar provider.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // default: Google's OAuth token endpoint
	AccessToken  string
	RefreshToken string
	BaseURL      string // default: https://www.googleapis.com/calendar/v3
	CalendarID   string // default: primary
}

// Google talks to the Google Calendar v3 REST API.
type Google struct {
	baseURL    string
	calendarID string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGoogle builds a provider whose HTTP client attaches and refreshes
// the OAuth token from opts. The token exchange runs over the shared
// httpkit transport.
func NewGoogle(opts GoogleOptions, logger *slog.Logger) *Google {
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}
	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	tok := &oauth2.Token{
		AccessToken:  opts.AccessToken,
		RefreshToken: opts.RefreshToken,
		TokenType:    "Bearer",
	}
	if opts.AccessToken != "" && opts.RefreshToken != "" {
		// The stored access token has no known expiry; mint a fresh one
		// on first use.
		tok.Expiry = time.Now()
	}

	base := httpkit.NewClient()
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, conf.TokenSource(ctx, tok))

	return NewGoogleWithClient(client, opts.BaseURL, opts.CalendarID, logger)
}

// NewGoogleWithClient uses an already-authorized client. Tests pass a
// plain client pointed at an httptest server.
func NewGoogleWithClient(client *http.Client, baseURL, calendarID string, logger *slog.Logger) *Google {
	if baseURL == "" {
		baseURL = googleAPIBase
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Google{
		baseURL:    strings.TrimRight(baseURL, "/"),
		calendarID: calendarID,
		httpClient: client,
		logger:     logger.With("calendar", "google"),
	}
}

type googleEvent struct {
	ID             string          `json:"id,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Status         string          `json:"status,omitempty"`
	Organizer      *Person         `json:"organizer,omitempty"`
	Start          EventTime       `json:"start"`
	End            EventTime       `json:"end"`
	Attendees      []Attendee      `json:"attendees,omitempty"`
	HangoutLink    string          `json:"hangoutLink,omitempty"`
	EventType      string          `json:"eventType,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
}

type conferenceData struct {
	CreateRequest *createConferenceRequest `json:"createRequest,omitempty"`
	EntryPoints   []struct {
		EntryPointType string `json:"entryPointType"`
		URI            string `json:"uri"`
	} `json:"entryPoints,omitempty"`
}

type createConferenceRequest struct {
	RequestID             string `json:"requestId"`
	ConferenceSolutionKey struct {
		Type string `json:"type"`
	} `json:"conferenceSolutionKey"`
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

func (g googleEvent) toEvent() Event {
	link := g.HangoutLink
	if link == "" && g.ConferenceData != nil {
		for _, ep := range g.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				link = ep.URI
				break
			}
		}
	}
	return Event{
		ID:          g.ID,
		Summary:     g.Summary,
		Status:      g.Status,
		Organizer:   g.Organizer,
		Start:       g.Start,
		End:         g.End,
		Attendees:   g.Attendees,
		MeetingLink: link,
		EventType:   g.EventType,
	}
}

func (c *Google) eventsURL() string {
	return c.baseURL + "/calendars/" + url.PathEscape(c.calendarID) + "/events"
}

// ListEvents returns events overlapping [q.TimeMin, q.TimeMax],
// recurring events expanded, ordered by start time.
func (c *Google) ListEvents(ctx context.Context, q Query) ([]Event, error) {
	params := url.Values{}
	params.Set("timeMin", q.TimeMin.UTC().Format(time.RFC3339))
	params.Set("timeMax", q.TimeMax.UTC().Format(time.RFC3339))
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	if q.Text != "" {
		params.Set("q", q.Text)
	}

	events := []Event{}
	for page := ""; ; {
		if page != "" {
			params.Set("pageToken", page)
		}
		var list googleEventList
		if err := c.do(ctx, http.MethodGet, c.eventsURL()+"?"+params.Encode(), nil, &list); err != nil {
			return nil, err
		}
		for _, item := range list.Items {
			events = append(events, item.toEvent())
		}
		if list.NextPageToken == "" {
			break
		}
		page = list.NextPageToken
	}

	c.logger.Debug("events listed", "count", len(events), "time_min", q.TimeMin, "time_max", q.TimeMax)
	return events, nil
}

// CreateEvent inserts ev with a Google Meet link and sends invitations
// to all attendees.
func (c *Google) CreateEvent(ctx context.Context, ev NewEvent) (*Event, error) {
	body := googleEvent{
		Summary:   ev.Summary,
		Start:     ev.Start,
		End:       ev.End,
		Attendees: ev.Attendees,
		ConferenceData: &conferenceData{
			CreateRequest: &createConferenceRequest{RequestID: uuid.NewString()},
		},
	}
	body.ConferenceData.CreateRequest.ConferenceSolutionKey.Type = "hangoutsMeet"

	params := url.Values{}
	params.Set("sendUpdates", "all")
	params.Set("conferenceDataVersion", "1")

	var created googleEvent
	if err := c.do(ctx, http.MethodPost, c.eventsURL()+"?"+params.Encode(), body, &created); err != nil {
		return nil, err
	}
	out := created.toEvent()
	c.logger.Info("event created", "id", out.ID, "summary", out.Summary, "attendees", len(out.Attendees))
	return &out, nil
}

// do sends a JSON request and decodes a JSON response. Any status
// outside 2xx is an error.
func (c *Google) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("google calendar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Warn("google calendar API error", "method", method, "status", resp.StatusCode, "body", errBody)
		return &APIError{StatusCode: resp.StatusCode, Body: errBody}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the calendar service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar API error %d: %s", e.StatusCode, e.Body)
}
