package main

import (
	"log/slog"
	"os"

	"github.com/dslink/go-spiuart/internal/logging"
)

// setupLogger builds the process logger and installs it as the package-wide
// default. Unknown level strings fall back to info rather than failing
// startup.
func setupLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "spiuart-bridge")
	logging.Set(l)
	return l
}
