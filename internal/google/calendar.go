package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarProvider builds per-host Google Calendar clients from stored OAuth credentials.
type CalendarProvider struct {
	oauth  *oauth2.Config
	store  domain.CredentialStore
	logger *zerolog.Logger
	opts   []option.ClientOption
}

// NewCalendarProvider reads the OAuth client JSON used to refresh host tokens.
func NewCalendarProvider(oauthClientFile string, store domain.CredentialStore, logger *zerolog.Logger) (*CalendarProvider, error) {
	data, err := os.ReadFile(oauthClientFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read oauth client file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse oauth client: %w", err)
	}
	return newCalendarProvider(cfg, store, logger), nil
}

func newCalendarProvider(cfg *oauth2.Config, store domain.CredentialStore, logger *zerolog.Logger, opts ...option.ClientOption) *CalendarProvider {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CalendarProvider{oauth: cfg, store: store, logger: logger, opts: opts}
}

func (p *CalendarProvider) Client(ctx context.Context, cred *models.Credential) (domain.CalendarClient, error) {
	if cred == nil {
		return nil, errors.New("calendar credential is nil")
	}

	initial := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	ts := &persistingTokenSource{
		base:   oauth2.ReuseTokenSource(initial, p.oauth.TokenSource(ctx, initial)),
		store:  p.store,
		credID: cred.ID,
		last:   cred.AccessToken,
		logger: p.logger,
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, p.opts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return &CalendarClient{service: srv}, nil
}

// persistingTokenSource writes refreshed tokens back to the credential row.
// Concurrent refreshes from parallel requests race; the last write wins.
type persistingTokenSource struct {
	base   oauth2.TokenSource
	store  domain.CredentialStore
	credID int64
	logger *zerolog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if changed && s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.UpdateCredentialToken(ctx, s.credID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
			s.logger.Warn().Err(err).Int64("credential_id", s.credID).Msg("persist refreshed calendar token")
		}
	}
	return tok, nil
}

type CalendarClient struct {
	service *calendar.Service
}

func (c *CalendarClient) GetBusyTimes(ctx context.Context, calendarIDs []string, from, to time.Time) ([]models.TimeRange, error) {
	req := &calendar.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
	}
	for _, id := range calendarIDs {
		req.Items = append(req.Items, &calendar.FreeBusyRequestItem{Id: id})
	}

	resp, err := c.service.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	var busy []models.TimeRange
	for _, id := range calendarIDs {
		cal, ok := resp.Calendars[id]
		if !ok || len(cal.Errors) > 0 {
			continue
		}
		for _, period := range cal.Busy {
			start, err := time.Parse(time.RFC3339, period.Start)
			if err != nil {
				continue
			}
			end, err := time.Parse(time.RFC3339, period.End)
			if err != nil {
				continue
			}
			busy = append(busy, models.TimeRange{Start: start.UTC(), End: end.UTC()})
		}
	}
	return busy, nil
}

func (c *CalendarClient) CreateEvent(ctx context.Context, event domain.CalendarEvent) (*domain.CalendarEventResult, error) {
	ev := toCalendarEvent(event)
	for _, email := range event.Attendees {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
	}

	if event.WantsMeetingLink {
		ev.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             event.RequestID,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}

	call := c.service.Events.Insert(calendarOrPrimary(event.CalendarID), ev).SendUpdates("none")
	if event.WantsMeetingLink {
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	res := &domain.CalendarEventResult{ExternalID: created.Id, MeetingURL: created.HangoutLink}
	if res.MeetingURL == "" && created.ConferenceData != nil {
		for _, ep := range created.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				res.MeetingURL = ep.Uri
				break
			}
		}
	}
	return res, nil
}

func (c *CalendarClient) UpdateEvent(ctx context.Context, calendarID, externalID string, event domain.CalendarEvent) error {
	_, err := c.service.Events.Patch(calendarOrPrimary(calendarID), externalID, toCalendarEvent(event)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("patch event %s: %w", externalID, err)
	}
	return nil
}

func (c *CalendarClient) DeleteEvent(ctx context.Context, calendarID, externalID string) error {
	if err := c.service.Events.Delete(calendarOrPrimary(calendarID), externalID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", externalID, err)
	}
	return nil
}

func toCalendarEvent(event domain.CalendarEvent) *calendar.Event {
	ev := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
	}
	if !event.Start.IsZero() {
		ev.Start = &calendar.EventDateTime{DateTime: event.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}
	if !event.End.IsZero() {
		ev.End = &calendar.EventDateTime{DateTime: event.End.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}
	return ev
}

func calendarOrPrimary(id string) string {
	if id == "" {
		return "primary"
	}
	return id
}
