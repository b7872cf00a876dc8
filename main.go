/*
rawxfer moves the contents of a file over a raw TCP or UDP socket and
measures how long it took. There is no framing and no handshake: the bytes
on the wire are the bytes of the file.

The program operates in three modes:

1. send: Streams a whole file, optionally repeated, to a receiver over TCP

2. receive: Listens on TCP or UDP and counts the bytes of every session

3. relay: Sends a file chunk by chunk, waits for the peer to echo each chunk
and writes the echoed bytes to an output file

Every session ends with a one-line summary of bytes, elapsed time and rate.
*/
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rawxfer/internal/config"
	"rawxfer/internal/logging"
	"rawxfer/internal/receiver"
	"rawxfer/internal/relay"
	"rawxfer/internal/sender"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run executes one invocation with console logs on stdout and returns the
// process exit code
func run(args []string, stdout io.Writer) int {
	// Parse command line arguments
	cfg, err := config.ParseArgsWithUsage(args, os.Stderr)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return 1
	}

	// Setup structured logging
	if err := logging.SetupLogger(stdout, cfg.LogFile, cfg.LogLevel); err != nil {
		slog.Error("Failed to setup logging", "error", err)
		return 1
	}

	logging.LogConfig(cfg)

	ctx, stop := setupSignalHandling()
	defer stop()

	switch cfg.Mode {
	case config.ModeSend:
		_, err = sender.Run(ctx, cfg)
	case config.ModeReceive:
		err = receiver.Run(ctx, cfg, nil)
	case config.ModeRelay:
		_, err = relay.Run(ctx, cfg)
	}

	if ctx.Err() != nil {
		slog.Info("Aborted manually")
		return 1
	}
	if err != nil {
		logging.LogError(err, string(cfg.Mode))
		return 1
	}
	return 0
}

// setupSignalHandling returns a context cancelled on SIGINT or SIGTERM.
// In-flight sockets are closed through the context so blocking calls return.
func setupSignalHandling() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
