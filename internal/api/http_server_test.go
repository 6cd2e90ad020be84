package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"notisync/internal/backoff"
	"notisync/internal/cache"
	"notisync/internal/channel"
	"notisync/internal/config"
	"notisync/internal/events"
	"notisync/internal/models"
	"notisync/internal/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okDispatcher struct{}

func (okDispatcher) Dispatch(context.Context, *models.QueuedNotification) (bool, error) {
	return true, nil
}

type nullCounter struct{}

func (nullCounter) SentLastHour(context.Context, int64) (int, error) { return 0, nil }
func (nullCounter) RecordSent(context.Context, int64) error          { return nil }

func newTestQueue() *queue.Service {
	return queue.New(okDispatcher{}, channel.Retryable, func(int64) models.DeliveryPolicy {
		return models.DeliveryPolicy{MaxPerHour: 100}
	}, nullCounter{}, events.NewEventBus(), zerolog.Nop(), queue.Options{Retry: backoff.Default()})
}

func newTestServer(t *testing.T, cfg config.APIConfig) (*HTTPServer, *httptest.Server) {
	t.Helper()
	srv := NewHTTPServer(cfg, newTestQueue(), nil, nil, nil, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestEnqueueAndList(t *testing.T) {
	_, ts := newTestServer(t, config.APIConfig{Port: 0})

	body := `{"recipient_id":42,"priority":"high","payload":{"body":"standup in 10 minutes"},"channels":["webhook"]}`
	resp, err := http.Post(ts.URL+"/api/v1/notifications", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	listResp, err := http.Get(ts.URL + "/api/v1/notifications?recipient_id=42")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var listed struct {
		Notifications []models.QueuedNotification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	require.Len(t, listed.Notifications, 1)
	assert.Equal(t, created.ID, listed.Notifications[0].ID)
	assert.Equal(t, models.PriorityHigh, listed.Notifications[0].Priority)
}

func TestEnqueueValidation(t *testing.T) {
	_, ts := newTestServer(t, config.APIConfig{Port: 0})

	cases := []struct {
		name string
		body string
	}{
		{"no recipient", `{"payload":{"body":"hi"},"channels":["webhook"]}`},
		{"no channels", `{"recipient_id":1,"payload":{"body":"hi"}}`},
		{"bad priority", `{"recipient_id":1,"priority":"extreme","channels":["webhook"]}`},
		{"bad json", `{"recipient_id":`},
		{"unknown field", `{"recipient_id":1,"channels":["webhook"],"surprise":true}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/notifications", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCancelNotification(t *testing.T) {
	srv, ts := newTestServer(t, config.APIConfig{Port: 0})

	id, err := srv.queue.Enqueue(queue.EnqueueInput{
		RecipientID:   7,
		Channels:      []string{"webhook"},
		ScheduledTime: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/notifications/%s?recipient_id=7", ts.URL, id), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, srv.queue.UserQueue(7))

	// Повторная отмена того же id.
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestSyncDisabled(t *testing.T) {
	_, ts := newTestServer(t, config.APIConfig{Port: 0})

	resp, err := http.Get(ts.URL + "/api/v1/sync/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	expResp, err := http.Post(ts.URL+"/api/v1/export", "application/json", nil)
	require.NoError(t, err)
	defer expResp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, expResp.StatusCode)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.APIConfig{
		Port: 0,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "secret-key", Name: "ops"}},
		},
	}
	_, ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/api/v1/notifications?recipient_id=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/notifications?recipient_id=1", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("x-api-key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health и metrics живут вне авторизации.
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Port:      0,
		RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2},
	}
	_, ts := newTestServer(t, cfg)

	statuses := make(map[int]int)
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/notifications?recipient_id=1")
		require.NoError(t, err)
		resp.Body.Close()
		statuses[resp.StatusCode]++
	}

	assert.Equal(t, 2, statuses[http.StatusOK], "burst of 2 must pass")
	assert.Equal(t, 3, statuses[http.StatusTooManyRequests])
}

func TestTodayEventsAndCacheClear(t *testing.T) {
	c, err := cache.New(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	now := time.Now()
	require.NoError(t, c.CacheEvents(context.Background(), []models.CalendarEvent{{
		ID:        "ev-today",
		Title:     "standup",
		StartTime: now,
		EndTime:   now.Add(15 * time.Minute),
	}}, now))

	srv := NewHTTPServer(config.APIConfig{Port: 0}, newTestQueue(), nil, c, nil, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/events/today")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events []models.CalendarEvent `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "ev-today", body.Events[0].ID)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/cache", nil)
	require.NoError(t, err)
	clearResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	clearResp.Body.Close()
	require.Equal(t, http.StatusOK, clearResp.StatusCode)

	after, err := c.TodayCachedEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, config.APIConfig{Port: 0})

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/notifications", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
