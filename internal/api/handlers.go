package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"notisync/internal/models"
	"notisync/internal/queue"
	"notisync/internal/syncer"
)

type enqueueRequest struct {
	RecipientID   int64          `json:"recipient_id"`
	Type          string         `json:"type"`
	Priority      string         `json:"priority"`
	Payload       models.Payload `json:"payload"`
	Channels      []string       `json:"channels"`
	ScheduledTime *time.Time     `json:"scheduled_time,omitempty"`
	MaxRetries    int            `json:"max_retries,omitempty"`
}

// handleNotifications серверит POST (постановка в очередь) и GET
// (снимок очереди получателя).
func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.enqueueNotification(w, r)
	case http.MethodGet:
		s.listNotifications(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) enqueueNotification(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	var body enqueueRequest
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.RecipientID == 0 {
		writeError(w, http.StatusBadRequest, "recipient_id is required")
		return
	}

	input := queue.EnqueueInput{
		RecipientID: body.RecipientID,
		Type:        models.NotificationType(body.Type),
		Priority:    models.Priority(body.Priority),
		Payload:     body.Payload,
		Channels:    body.Channels,
		MaxRetries:  body.MaxRetries,
	}
	if body.ScheduledTime != nil {
		input.ScheduledTime = *body.ScheduledTime
	}

	id, err := s.queue.Enqueue(input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *HTTPServer) listNotifications(w http.ResponseWriter, r *http.Request) {
	recipientID, err := recipientIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": s.queue.UserQueue(recipientID),
	})
}

// handleNotificationByID серверит DELETE /api/v1/notifications/{id}.
func (s *HTTPServer) handleNotificationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/notifications/"
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, prefix))
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "notification id is required")
		return
	}

	recipientID, err := recipientIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.queue.Cancel(recipientID, id) {
		writeError(w, http.StatusNotFound, "notification not found or already settled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is disabled")
		return
	}

	writeJSON(w, http.StatusOK, s.sync.Status(r.Context()))
}

// handleSyncTrigger запускает синхронизацию вручную. force=true идёт в
// сеть даже в офлайне.
func (s *HTTPServer) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is disabled")
		return
	}

	days := 7
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = parsed
	}

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, days)

	var res *syncer.Result
	var err error
	if r.URL.Query().Get("force") == "true" {
		res, err = s.sync.ForceSync(r.Context(), start, end)
	} else {
		res, err = s.sync.Sync(r.Context(), start, end)
	}
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp := map[string]any{
		"source":      string(res.Source),
		"event_count": len(res.Events),
	}
	if res.SyncedAt != nil {
		resp["synced_at"] = res.SyncedAt
	}
	if res.Err != nil {
		// Кэш отдан вместо свежих данных, показываем причину.
		resp["stale"] = true
		resp["error"] = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTodayEvents отдаёт сегодняшние события из офлайн-кэша.
func (s *HTTPServer) handleTodayEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache is not available")
		return
	}

	cached, err := s.cache.TodayCachedEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	lastSync, err := s.cache.LastSyncTime(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"events": cached}
	if lastSync != nil {
		resp["last_sync"] = lastSync
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCache серверит DELETE: полная очистка кэша, последний шаг
// восстановления когда кэш нечитаем.
func (s *HTTPServer) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache is not available")
		return
	}

	if err := s.cache.ClearCache(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleExport строит xlsx отчет о потерянных доставках и мутациях.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is disabled")
		return
	}

	path, err := s.exporter.AuditReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"file_path": path})
}

func recipientIDParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("recipient_id"))
	if raw == "" {
		return 0, errors.New("recipient_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid recipient_id")
	}
	return id, nil
}
