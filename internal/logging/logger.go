package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"notisync/internal/config"

	"github.com/rs/zerolog"
)

// New builds the root zerolog logger from config. Empty fields mean
// JSON to stdout at info level. The returned closer is non-nil only
// for file output.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	output, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if trimmed := strings.ToLower(strings.TrimSpace(cfg.Level)); trimmed != "" {
		if parsed, perr := zerolog.ParseLevel(trimmed); perr == nil && parsed != zerolog.NoLevel {
			level = parsed
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	ctx := zerolog.New(output).Level(level).With().Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version)
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}

	logger := ctx.Logger()
	return &logger, closer, nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return file, file, nil
	default:
		return nil, nil, fmt.Errorf("unknown logging output %q", cfg.Output)
	}
}
