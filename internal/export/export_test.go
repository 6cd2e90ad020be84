package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"notisync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type staticFailed []models.QueuedNotification

func (s staticFailed) FailedNotifications() []models.QueuedNotification { return s }

type staticPending []models.SyncOperation

func (s staticPending) PendingOperations(context.Context) ([]models.SyncOperation, error) {
	return s, nil
}

func TestAuditReport(t *testing.T) {
	errMsg := "auth error 401: bad token"
	failedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	failed := staticFailed{{
		ID:          "n-1",
		RecipientID: 42,
		Type:        models.TypeTaskReminder,
		Priority:    models.PriorityHigh,
		Channels:    []string{"webhook"},
		RetryCount:  3,
		Status:      models.StatusFailed,
		LastError:   &errMsg,
		CreatedAt:   failedAt.Add(-time.Hour),
		ProcessedAt: &failedAt,
	}}
	pending := staticPending{{
		ID:        1,
		Type:      models.SyncOpCreate,
		Payload:   `{"title":"draft"}`,
		CreatedAt: failedAt,
	}}

	dir := t.TempDir()
	exp := New(failed, pending, dir, zerolog.Nop())

	path, err := exp.AuditReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Failed deliveries")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "n-1", rows[1][0])
	assert.Equal(t, "high", rows[1][3])
	assert.Equal(t, errMsg, rows[1][6])

	opRows, err := f.GetRows("Pending sync operations")
	require.NoError(t, err)
	require.Len(t, opRows, 2)
	assert.Equal(t, "CREATE", opRows[1][1])
}

func TestAuditReportEmpty(t *testing.T) {
	exp := New(staticFailed{}, staticPending{}, t.TempDir(), zerolog.Nop())

	path, err := exp.AuditReport(context.Background())
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Failed deliveries")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
