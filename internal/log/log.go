// Package log builds the slog loggers the rest of quill injects.
//
// Loggers are constructor dependencies, never globals: cmd creates one at
// startup and each component receives it (usually narrowed with
// logger.With("component", ...)). Tests use NewNop or NewWithWriter to
// silence or capture output.
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	store := conversation.NewStore(pool, logger.With("component", "store"))
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger aliases *slog.Logger so components depend on the standard type
// and keep full access to With and the slog ecosystem.
type Logger = *slog.Logger

// Config selects handler behavior.
type Config struct {
	// Level is the minimum level emitted. Zero value is slog.LevelInfo.
	Level slog.Level

	// JSON selects the JSON handler; text otherwise.
	JSON bool

	// AddSource annotates records with file and line.
	AddSource bool
}

// New returns a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w. Tests pass a bytes.Buffer
// here to assert on output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop returns a logger that discards everything. Test use only;
// production paths get New or NewWithWriter.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
