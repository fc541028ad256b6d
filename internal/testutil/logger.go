package testutil

import (
	"log/slog"
)

// DiscardLogger returns a logger that drops everything, for tests that
// inject a *slog.Logger but never assert on log output. Equivalent to
// log.NewNop(); prefer that form in code already importing internal/log.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
