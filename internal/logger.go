package internal

import (
	"io"
	"log/slog"
	"os"
)

var testLogger *slog.Logger

func init() {
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	if os.Getenv("SPANGLE_TEST_LOG") == "1" {
		testLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
}

// TestLogger returns the slog logger used by tests: silent by default,
// verbose JSON on stdout when SPANGLE_TEST_LOG=1.
func TestLogger() *slog.Logger {
	return testLogger
}
