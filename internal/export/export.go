// Package export builds the delivery audit report: permanently failed
// notifications and still-pending calendar mutations in one workbook.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notisync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// FailedSource provides the permanently failed notifications.
type FailedSource interface {
	FailedNotifications() []models.QueuedNotification
}

// PendingSource provides the not-yet-replayed local mutations.
type PendingSource interface {
	PendingOperations(ctx context.Context) ([]models.SyncOperation, error)
}

type Exporter struct {
	failed  FailedSource
	pending PendingSource
	dir     string
	logger  zerolog.Logger
}

func New(failed FailedSource, pending PendingSource, dir string, logger zerolog.Logger) *Exporter {
	return &Exporter{
		failed:  failed,
		pending: pending,
		dir:     dir,
		logger:  logger.With().Str("component", "export").Logger(),
	}
}

// AuditReport записывает xlsx отчет и возвращает путь к файлу
func (e *Exporter) AuditReport(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeFailedSheet(f); err != nil {
		return "", err
	}
	if err := e.writePendingSheet(ctx, f); err != nil {
		return "", err
	}

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("audit_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("audit report created")
	return filePath, nil
}

func (e *Exporter) writeFailedSheet(f *excelize.File) error {
	const sheetName = "Failed deliveries"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []interface{}{"ID", "Recipient", "Type", "Priority", "Channels", "Retries", "Last Error", "Created At", "Failed At"}
	_ = f.SetSheetRow(sheetName, "A1", &headers)

	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(sheetName, "A1", "I1", style)

	for i, n := range e.failed.FailedNotifications() {
		lastError := ""
		if n.LastError != nil {
			lastError = *n.LastError
		}
		failedAt := ""
		if n.ProcessedAt != nil {
			failedAt = n.ProcessedAt.Format("2006-01-02 15:04:05")
		}
		row := []interface{}{
			n.ID,
			n.RecipientID,
			string(n.Type),
			string(n.Priority),
			fmt.Sprintf("%v", n.Channels),
			n.RetryCount,
			lastError,
			n.CreatedAt.Format("2006-01-02 15:04:05"),
			failedAt,
		}
		cell := fmt.Sprintf("A%d", i+2)
		_ = f.SetSheetRow(sheetName, cell, &row)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "F", 12)
	_ = f.SetColWidth(sheetName, "G", "I", 30)
	return nil
}

func (e *Exporter) writePendingSheet(ctx context.Context, f *excelize.File) error {
	const sheetName = "Pending sync operations"
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	headers := []interface{}{"ID", "Type", "Payload", "Retry Count", "Last Error", "Created At"}
	_ = f.SetSheetRow(sheetName, "A1", &headers)

	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(sheetName, "A1", "F1", style)

	ops, err := e.pending.PendingOperations(ctx)
	if err != nil {
		return fmt.Errorf("error getting pending operations: %v", err)
	}

	for i, op := range ops {
		lastError := ""
		if op.LastError != nil {
			lastError = *op.LastError
		}
		row := []interface{}{
			op.ID,
			string(op.Type),
			op.Payload,
			op.RetryCount,
			lastError,
			op.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		cell := fmt.Sprintf("A%d", i+2)
		_ = f.SetSheetRow(sheetName, cell, &row)
	}

	_ = f.SetColWidth(sheetName, "A", "B", 12)
	_ = f.SetColWidth(sheetName, "C", "C", 50)
	_ = f.SetColWidth(sheetName, "D", "F", 25)
	return nil
}
