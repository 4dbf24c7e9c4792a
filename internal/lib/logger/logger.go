package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	logFileName = "ordersync.log"
)

func SetupLogger(env, logPath string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case envLocal:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		logger = slog.New(slog.NewJSONHandler(logWriter(logPath), &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		logger = slog.New(slog.NewJSONHandler(logWriter(logPath), &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return logger
}

// logWriter duplicates output to stdout and the log file; falls back to stdout
func logWriter(logPath string) io.Writer {
	if logPath == "" {
		return os.Stdout
	}
	file, err := os.OpenFile(filepath.Join(logPath, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, file)
}

// SetupTelegramHandler forwards records at or above minLevel to the bot admins
func SetupTelegramHandler(logger *slog.Logger, messenger Messenger, minLevel slog.Level) *slog.Logger {
	if messenger == nil {
		return logger
	}
	return slog.New(NewTelegramHandler(logger.Handler(), messenger, minLevel))
}
