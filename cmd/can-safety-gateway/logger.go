package main

import (
	"io"
	"log/slog"

	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
)

// setupLogger installs the process logger. The returned closer releases the
// rotating log file, if any.
func setupLogger(cfg *appConfig) (*slog.Logger, io.Closer) {
	w, closer := logging.Output(logging.FileOptions{
		Path:       cfg.logFile,
		MaxSizeMB:  cfg.logMaxSizeMB,
		MaxBackups: cfg.logMaxBackups,
		MaxAgeDays: cfg.logMaxAgeDays,
		Compress:   cfg.logCompress,
	})
	l := logging.New(cfg.logFormat, logging.ParseLevel(cfg.logLevel), w).With("app", "can-safety-gateway")
	logging.Set(l)
	return l, closer
}
