// Package googlecal adapts Google Calendar to the sync core's provider
// interface. Credentials are the OAuth client pair plus the user token
// captured at connection time.
package googlecal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"sync-service/internal/adapter"
	"sync-service/pkg/models"
)

type credentialBlob struct {
	ClientID     string       `json:"client_id"`
	ClientSecret string       `json:"client_secret"`
	Token        oauth2.Token `json:"token"`
}

type Adapter struct {
	svc    *calendar.Service
	tokens oauth2.TokenSource
}

var _ adapter.Provider = (*Adapter)(nil)

// New is the adapter.Factory for Google Calendar.
func New(ctx context.Context, credentials []byte, _ models.SyncSettings) (adapter.Provider, error) {
	var blob credentialBlob
	if err := json.Unmarshal(credentials, &blob); err != nil {
		return nil, fmt.Errorf("decode google calendar credentials: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     blob.ClientID,
		ClientSecret: blob.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	ts := cfg.TokenSource(ctx, &blob.Token)

	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("google calendar service init: %w", err)
	}
	return &Adapter{svc: svc, tokens: ts}, nil
}

func (a *Adapter) Name() models.SyncSource { return models.SourceGoogleCalendar }

func (a *Adapter) ListEvents(ctx context.Context, calendarID string, window adapter.TimeRange) ([]adapter.Event, error) {
	var out []adapter.Event
	pageToken := ""
	for {
		call := a.svc.Events.List(calendarID).
			Context(ctx).
			SingleEvents(true).
			ShowDeleted(false).
			OrderBy("startTime").
			TimeMin(window.From.UTC().Format(time.RFC3339)).
			TimeMax(window.To.UTC().Format(time.RFC3339)).
			MaxResults(250)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, a.wrap("list_events", err)
		}
		for _, item := range resp.Items {
			ev, ok := fromGoogleEvent(item)
			if ok {
				out = append(out, ev)
			}
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (a *Adapter) CreateEvent(ctx context.Context, calendarID string, ev adapter.Event) (string, error) {
	created, err := a.svc.Events.Insert(calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", a.wrap("create_event", err)
	}
	return created.Id, nil
}

func (a *Adapter) UpdateEvent(ctx context.Context, calendarID, eventID string, ev adapter.Event) error {
	_, err := a.svc.Events.Update(calendarID, eventID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return a.wrap("update_event", err)
	}
	return nil
}

func (a *Adapter) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := a.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return a.wrap("delete_event", err)
	}
	return nil
}

// RefreshCredentials forces a token refresh through the oauth2 source.
func (a *Adapter) RefreshCredentials(ctx context.Context) error {
	if _, err := a.tokens.Token(); err != nil {
		return a.wrap("refresh_credentials", err)
	}
	return nil
}

func (a *Adapter) wrap(op string, err error) error {
	var gerr *googleapi.Error
	auth := errors.As(err, &gerr) && (gerr.Code == 401 || gerr.Code == 403)
	return &adapter.ProviderError{
		Provider:    models.SourceGoogleCalendar,
		Op:          op,
		Err:         err,
		AuthFailure: auth,
	}
}

func toGoogleEvent(ev adapter.Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &calendar.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
	for _, email := range ev.Attendees {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{Email: email})
	}
	if ev.ReminderMins > 0 {
		out.Reminders = &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: int64(ev.ReminderMins)},
			},
			ForceSendFields: []string{"UseDefault"},
		}
	}
	return out
}

func fromGoogleEvent(item *calendar.Event) (adapter.Event, bool) {
	start, ok1 := parseEventTime(item.Start)
	end, ok2 := parseEventTime(item.End)
	if !ok1 || !ok2 {
		return adapter.Event{}, false
	}
	ev := adapter.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start,
		End:         end,
		Cancelled:   item.Status == "cancelled",
	}
	for _, att := range item.Attendees {
		if att != nil && att.Email != "" {
			ev.Attendees = append(ev.Attendees, att.Email)
		}
	}
	return ev, true
}

func parseEventTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt == nil {
		return time.Time{}, false
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		return t, err == nil
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		return t, err == nil
	}
	return time.Time{}, false
}
