package akg

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the slog logger described by cfg: JSON (or text) to
// stdout, or to a size-rotated file when cfg.File is set. The returned
// closer releases the file and is a no-op for stdout.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := cfg.level()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = io.NopCloser(nil)
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch cfg.Format {
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), closer, nil
}
