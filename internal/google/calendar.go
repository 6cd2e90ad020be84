package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"notisync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarService is the remote system of record for calendar events.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
}

func NewCalendarService(credentialsFile, calendarID string) (*CalendarService, error) {
	ctx := context.Background()

	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	// Создаем JWT конфигурацию
	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	client := config.Client(ctx)

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %v", err)
	}

	return &CalendarService{
		service:    srv,
		calendarID: calendarID,
	}, nil
}

// TestConnection проверяет доступ к календарю
func (s *CalendarService) TestConnection(ctx context.Context) error {
	_, err := s.service.Calendars.Get(s.calendarID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// GetServiceAccountEmail возвращает email сервисного аккаунта
func (s *CalendarService) GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}

	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}

	return creds.ClientEmail, nil
}

// FetchEvents reads the event range from the remote calendar, expanded
// to single events in start order.
func (s *CalendarService) FetchEvents(ctx context.Context, start, end time.Time, maxResults int64) ([]models.CalendarEvent, error) {
	call := s.service.Events.List(s.calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}

	var out []models.CalendarEvent
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			ev, err := fromAPIEvent(item)
			if err != nil {
				// Событие без времени начала (например, отменённое), пропускаем
				continue
			}
			out = append(out, ev)
		}

		if resp.NextPageToken == "" || (maxResults > 0 && int64(len(out)) >= maxResults) {
			break
		}
		pageToken = resp.NextPageToken
	}

	return out, nil
}

// ApplyMutation replays one queued local mutation against the remote
// calendar. The operation payload carries the event as JSON; deletes
// only need the id.
func (s *CalendarService) ApplyMutation(ctx context.Context, op models.SyncOperation) error {
	var ev models.CalendarEvent
	if err := json.Unmarshal([]byte(op.Payload), &ev); err != nil {
		return fmt.Errorf("decode sync payload: %v", err)
	}

	switch op.Type {
	case models.SyncOpCreate:
		_, err := s.service.Events.Insert(s.calendarID, toAPIEvent(ev)).Context(ctx).Do()
		return err
	case models.SyncOpUpdate:
		if ev.ID == "" {
			return fmt.Errorf("update requires event id")
		}
		_, err := s.service.Events.Update(s.calendarID, ev.ID, toAPIEvent(ev)).Context(ctx).Do()
		return err
	case models.SyncOpDelete:
		if ev.ID == "" {
			return fmt.Errorf("delete requires event id")
		}
		return s.service.Events.Delete(s.calendarID, ev.ID).Context(ctx).Do()
	default:
		return fmt.Errorf("unknown sync operation type: %s", op.Type)
	}
}

func toAPIEvent(ev models.CalendarEvent) *calendar.Event {
	return &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &calendar.EventDateTime{DateTime: ev.StartTime.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.EndTime.Format(time.RFC3339)},
	}
}

func fromAPIEvent(item *calendar.Event) (models.CalendarEvent, error) {
	start, err := eventTime(item.Start)
	if err != nil {
		return models.CalendarEvent{}, fmt.Errorf("event %s: %v", item.Id, err)
	}
	end, err := eventTime(item.End)
	if err != nil {
		end = start
	}

	return models.CalendarEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		StartTime:   start,
		EndTime:     end,
	}, nil
}

// eventTime handles both timed events (DateTime) and all-day events (Date).
func eventTime(edt *calendar.EventDateTime) (time.Time, error) {
	if edt == nil {
		return time.Time{}, fmt.Errorf("missing time")
	}
	if edt.DateTime != "" {
		return time.Parse(time.RFC3339, edt.DateTime)
	}
	if edt.Date != "" {
		return time.Parse("2006-01-02", edt.Date)
	}
	return time.Time{}, fmt.Errorf("empty time")
}
