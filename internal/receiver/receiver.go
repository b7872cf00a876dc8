// Package receiver listens for inbound TCP connections or UDP datagrams and
// counts the bytes of each transfer session, one peer at a time. A UDP
// session belongs to the address of its first datagram; datagrams from other
// addresses are dropped until the session ends.
package receiver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"rawxfer/internal/config"
	"rawxfer/internal/errors"
	"rawxfer/internal/filesystem"
	"rawxfer/internal/logging"
	"rawxfer/internal/network"
	"rawxfer/internal/progress"
	"rawxfer/internal/throughput"
)

// Result describes one completed receive session
type Result struct {
	Remote  string
	Bytes   int64
	Echoed  int64
	Summary throughput.Summary
	Err     error
}

// ReportFunc is called after every session, successful or not
type ReportFunc func(Result)

// Run binds cfg.Endpoint and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, report ReportFunc) error {
	slog.Info("Server listening", "address", cfg.Endpoint.String(), "proto", string(cfg.Protocol))

	if cfg.Protocol == config.UDP {
		pc, err := network.ListenPacket(ctx, cfg.Endpoint)
		if err != nil {
			return err
		}
		return ServeUDP(ctx, pc, cfg, report)
	}

	ln, err := network.Listen(ctx, cfg.Endpoint)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg, report)
}

// maxAcceptDelay caps the backoff after a failed Accept
const maxAcceptDelay = time.Second

// Serve accepts connections from ln one at a time until ctx is cancelled or
// the listener is closed. Other accept failures are retried with backoff.
// Each connection is a separate session with its own counter. The listener
// is closed on return.
func Serve(ctx context.Context, ln net.Listener, cfg *config.Config, report ReportFunc) error {
	defer ln.Close()
	defer network.CloseOnCancel(ctx, ln)()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.NewNetworkError("accept", ln.Addr().String(), err)
			}

			delay = nextAcceptDelay(delay)
			slog.Warn("Accept failed, retrying", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		result := handleConnection(ctx, conn, cfg)
		if result.Err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		deliver(report, result)
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, maxAcceptDelay)
}

// handleConnection reads conn until EOF, then closes it
func handleConnection(ctx context.Context, conn net.Conn, cfg *config.Config) Result {
	defer conn.Close()
	defer network.CloseOnCancel(ctx, conn)()

	remote := conn.RemoteAddr().String()
	slog.Info("Connected", "remote_addr", remote)

	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	sink, closeSink, err := openSink(cfg.OutputPath)
	if err != nil {
		return Result{Remote: remote, Err: err}
	}
	defer closeSink()

	var echo io.Writer
	if cfg.Echo {
		echo = conn
	}

	stats := progress.NewStats("receive", 0)
	meter := throughput.Start()
	err = drain(conn, sink, echo, cfg.ChunkSize, stats)

	return Result{
		Remote:  remote,
		Bytes:   stats.Received(),
		Echoed:  stats.Sent(),
		Summary: meter.Summarize(stats.Received()),
		Err:     err,
	}
}

// drain copies chunks from r into sink and echo until r reports EOF
func drain(r io.Reader, sink, echo io.Writer, chunkSize int, stats *progress.Stats) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			stats.AddReceived(int64(n))
			if sink != nil {
				if _, werr := sink.Write(buf[:n]); werr != nil {
					return errors.NewFileSystemError("write", "output", werr)
				}
			}
			if echo != nil {
				if _, werr := network.SendAll(echo, buf[:n], 0, stats); werr != nil {
					return errors.NewNetworkError("echo", "peer", werr)
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewNetworkError("read", "peer", err)
		}
	}
}

// ServeUDP receives datagrams on pc until ctx is cancelled. A session starts
// with the first datagram and ends after cfg.IdleTimeout of silence.
func ServeUDP(ctx context.Context, pc net.PacketConn, cfg *config.Config, report ReportFunc) error {
	defer pc.Close()
	defer network.CloseOnCancel(ctx, pc)()

	for {
		result, err := serveUDPSession(pc, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		deliver(report, result)
	}
}

// serveUDPSession blocks for a first datagram, then keeps receiving until
// the idle timeout expires.
func serveUDPSession(pc net.PacketConn, cfg *config.Config) (Result, error) {
	buf := make([]byte, cfg.ChunkSize)

	if err := pc.SetReadDeadline(noDeadline); err != nil {
		return Result{}, errors.NewNetworkError("set_deadline", pc.LocalAddr().String(), err)
	}

	var (
		stats     *progress.Stats
		meter     *throughput.Meter
		sink      io.Writer
		closeSink = func() {}
		remote    string
	)
	defer func() { closeSink() }()

	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if stats != nil && errors.Classify(err) == errors.KindTimeout {
				// The idle gap is not part of the transfer.
				elapsed := meter.Elapsed() - cfg.IdleTimeout
				return Result{
					Remote:  remote,
					Bytes:   stats.Received(),
					Echoed:  stats.Sent(),
					Summary: throughput.NewSummary(stats.Received(), elapsed),
				}, nil
			}
			if errors.Classify(err) == errors.KindRefused {
				// ICMP port unreachable from an earlier echo; the peer left.
				continue
			}
			return Result{}, errors.NewNetworkError("read", pc.LocalAddr().String(), err)
		}

		if stats != nil && addr.String() != remote {
			slog.Warn("Dropping datagram from another peer", "remote_addr", addr.String(),
				"session_peer", remote, "bytes", n)
			continue
		}

		if stats == nil {
			remote = addr.String()
			slog.Info("Receiving datagrams", "remote_addr", remote)
			stats = progress.NewStats("receive", 0)
			meter = throughput.Start()
			if sink, closeSink, err = openSink(cfg.OutputPath); err != nil {
				return Result{}, err
			}
		}

		stats.AddReceived(int64(n))
		if sink != nil {
			if _, err := sink.Write(buf[:n]); err != nil {
				return Result{}, errors.NewFileSystemError("write", cfg.OutputPath, err)
			}
		}
		if cfg.Echo {
			written, err := pc.WriteTo(buf[:n], addr)
			if err != nil {
				slog.Warn("Echo failed", "remote_addr", addr.String(), "error", err)
			}
			stats.AddSent(int64(written))
		}

		if err := pc.SetReadDeadline(deadlineAfter(cfg.IdleTimeout)); err != nil {
			return Result{}, errors.NewNetworkError("set_deadline", pc.LocalAddr().String(), err)
		}
	}
}

var noDeadline time.Time

func deadlineAfter(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// openSink opens the optional output file for a session
func openSink(path string) (io.Writer, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	file, err := filesystem.CreateOutput(path)
	if err != nil {
		return nil, func() {}, err
	}
	return file, func() { closeFile(file) }, nil
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Warn("Failed to close output file", "path", f.Name(), "error", err)
	}
}

func deliver(report ReportFunc, result Result) {
	if result.Err != nil {
		logging.LogError(result.Err, "receive")
	}
	slog.Info("Received data", "remote_addr", result.Remote, "bytes", result.Bytes)
	logging.LogTransferComplete("receive", result.Remote, result.Summary)
	progress.PrintSummary("received from "+result.Remote, result.Summary)

	if report != nil {
		report(result)
	}
}
