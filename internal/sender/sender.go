// Package sender streams a whole file, optionally repeated, to a receiver
// over TCP and reports how long it took.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"rawxfer/internal/config"
	"rawxfer/internal/errors"
	"rawxfer/internal/filesystem"
	"rawxfer/internal/logging"
	"rawxfer/internal/network"
	"rawxfer/internal/progress"
	"rawxfer/internal/throughput"
)

// Result is the outcome of one bulk send
type Result struct {
	Run     int
	Summary throughput.Summary
}

// Run performs cfg.Runs independent bulk sends and stops at the first failure
func Run(ctx context.Context, cfg *config.Config) ([]Result, error) {
	slog.Info("Sending all messages", "address", cfg.Endpoint.String())

	results := make([]Result, 0, cfg.Runs)
	for i := 1; i <= cfg.Runs; i++ {
		slog.Info("Starting run", "run", i, "runs", cfg.Runs)

		summary, err := SendFile(ctx, cfg)
		if err != nil {
			return results, fmt.Errorf("run %d of %d: %w", i, cfg.Runs, err)
		}

		results = append(results, Result{Run: i, Summary: summary})
		progress.PrintSummary(fmt.Sprintf("Run %d of %d", i, cfg.Runs), summary)
	}

	slog.Info("All messages transmitted", "runs", cfg.Runs)
	return results, nil
}

// SendFile is one transfer session: it reads the input, concatenates it
// cfg.Multi times, writes all of it to the receiver and half-closes the
// connection. The socket and file are closed on every return path.
func SendFile(ctx context.Context, cfg *config.Config) (throughput.Summary, error) {
	addr := cfg.Endpoint.String()

	file, err := filesystem.OpenInput(cfg.InputPath)
	if err != nil {
		return throughput.Summary{}, err
	}
	defer file.Close()

	conn, err := network.Dial(ctx, config.TCP, cfg.Endpoint, cfg.DialTimeout)
	if err != nil {
		logging.LogConnectFailure(addr, err)
		return throughput.Summary{}, err
	}
	defer func() {
		conn.Close()
		slog.Debug("Socket closed", "address", addr)
	}()
	defer network.CloseOnCancel(ctx, conn)()

	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	payload, err := filesystem.ReadPayload(file, cfg.InputPath, cfg.Multi)
	if err != nil {
		return throughput.Summary{}, err
	}

	slog.Info("Sending payload", "bytes", len(payload), "multi", cfg.Multi)
	logging.LogSessionStart("send", addr, int64(len(payload)))

	stats := progress.NewStats("send", int64(len(payload)))
	if cfg.ShowProgress {
		reporter := progress.NewReporter(stats)
		reporter.Start()
		defer reporter.Stop()
	}

	meter := throughput.Start()
	sent, err := network.SendAll(conn, payload, cfg.WriteSize, stats)
	if err != nil {
		if ctx.Err() != nil {
			return throughput.Summary{}, errors.ErrCancelled
		}
		netErr := errors.NewNetworkError("send", addr, err)
		if errors.Classify(netErr).IsConnection() {
			logging.LogConnectFailure(addr, err)
		}
		return throughput.Summary{}, netErr
	}

	if err := network.CloseWrite(conn); err != nil {
		return throughput.Summary{}, errors.NewNetworkError("close_write", addr, err)
	}

	summary := meter.Summarize(sent)
	logging.LogTransferComplete("send", addr, summary)
	return summary, nil
}
