package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"rawxfer/internal/config"
	"rawxfer/internal/errors"
	"rawxfer/internal/filesystem"
	"rawxfer/internal/throughput"
)

// SetupLogger initializes structured logging with console output and, when
// logFile is not empty, a size-rotated log file.
func SetupLogger(console io.Writer, logFile, level string) error {
	out := console

	if logFile != "" {
		if err := filesystem.EnsureDirectoryExists(filepath.Dir(logFile)); err != nil {
			return err
		}
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			Compress:   false,
		}
		out = io.MultiWriter(console, rotator)
	}

	slog.SetDefault(NewLogger(out, level))

	slog.Info("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// NewLogger returns a text logger writing to w at the given level name
func NewLogger(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: false,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LogConfig logs the current configuration
func LogConfig(cfg *config.Config) {
	slog.Info("Configuration loaded",
		"mode", string(cfg.Mode),
		"proto", string(cfg.Protocol),
		"endpoint", cfg.Endpoint.String())

	switch cfg.Mode {
	case config.ModeSend:
		var fileSize int64
		if info, err := os.Stat(cfg.InputPath); err == nil {
			fileSize = info.Size()
		}
		slog.Info("Sender configuration",
			"file_size_bytes", fileSize,
			"payload_bytes", fileSize*int64(cfg.Multi),
			"multi", cfg.Multi,
			"runs", cfg.Runs)
	case config.ModeRelay:
		slog.Info("Relay configuration",
			"chunk_size", cfg.ChunkSize,
			"reply_timeout", cfg.Timeout,
			"verify", cfg.Verify)
	case config.ModeReceive:
		slog.Info("Receiver configuration",
			"chunk_size", cfg.ChunkSize,
			"echo", cfg.Echo,
			"output", cfg.OutputPath != "",
			"idle_timeout", cfg.IdleTimeout)
	}
}

// LogError logs an error with appropriate context
func LogError(err error, context string) {
	var (
		netErr *errors.NetworkError
		fsErr  *errors.FileSystemError
		valErr *errors.ValidationError
	)

	switch {
	case errors.As(err, &netErr):
		slog.Error("Network error",
			"context", context,
			"operation", netErr.Op,
			"address", netErr.Addr,
			"kind", netErr.Kind.String(),
			"error", netErr.Err,
			"error_type", "network")
	case errors.As(err, &fsErr):
		slog.Error("File system error",
			"context", context,
			"operation", fsErr.Op,
			"path", fsErr.Path,
			"error", fsErr.Err,
			"error_type", "filesystem")
	case errors.As(err, &valErr):
		slog.Error("Validation error",
			"context", context,
			"field", valErr.Field,
			"message", valErr.Message,
			"error_type", "validation")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}

// LogConnectFailure reports a failed connection attempt to addr
func LogConnectFailure(addr string, err error) {
	slog.Error("Could not connect",
		"address", addr,
		"kind", errors.Classify(err).String())
	slog.Error("Check if the receiving application is running", "address", addr)
}

// LogSessionStart logs the start of a transfer session
func LogSessionStart(mode string, remote string, totalSize int64) {
	slog.Info("Transfer session started",
		"mode", mode,
		"remote", remote,
		"total_bytes", totalSize,
		"session_start", time.Now().Format("15:04:05"))
}

// LogTransferComplete logs a finished session and its throughput
func LogTransferComplete(mode string, remote string, s throughput.Summary) {
	rate := any("n/a")
	if s.HasRate {
		rate = s.MBps()
	}
	slog.Info("Transfer completed",
		"mode", mode,
		"remote", remote,
		"total_bytes", s.Bytes,
		"duration", s.Elapsed,
		"average_rate_mbps", rate,
		"timestamp", time.Now().Format("15:04:05"))
}

// LogRelayComplete logs a finished relay session with both directions
func LogRelayComplete(remote string, sent, received int64, chunks int, s throughput.Summary) {
	rate := any("n/a")
	if s.HasRate {
		rate = s.MBps()
	}
	slog.Info("Relay completed",
		"remote", remote,
		"sent_bytes", sent,
		"received_bytes", received,
		"chunks", chunks,
		"duration", s.Elapsed,
		"average_rate_mbps", rate)
}
