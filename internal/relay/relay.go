// Package relay sends a file chunk by chunk and stores the peer's echo of
// every chunk in an output file. Over TCP the reply to a chunk must be
// exactly as long as the chunk; over UDP each reply is a single datagram of
// at most the chunk's length.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"rawxfer/internal/config"
	"rawxfer/internal/errors"
	"rawxfer/internal/filesystem"
	"rawxfer/internal/logging"
	"rawxfer/internal/network"
	"rawxfer/internal/progress"
	"rawxfer/internal/throughput"
)

// Result is the outcome of one relay session
type Result struct {
	Sent     int64
	Received int64
	Chunks   int
	Summary  throughput.Summary
	Verified bool
}

// replyReader reads the echo of one chunk into buf
type replyReader func(conn net.Conn, buf []byte) (int, error)

// readFullReply waits for the whole chunk on a stream connection
func readFullReply(conn net.Conn, buf []byte) (int, error) {
	return io.ReadFull(conn, buf)
}

// readDatagramReply takes one datagram; anything longer than buf is cut off
func readDatagramReply(conn net.Conn, buf []byte) (int, error) {
	return conn.Read(buf)
}

// Run performs one relay session as configured and, with cfg.Verify,
// compares the input and output digests afterwards.
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	addr := cfg.Endpoint.String()
	slog.Info("Sending all messages", "address", addr, "proto", string(cfg.Protocol), "output", cfg.OutputPath)

	result, err := Transfer(ctx, cfg)
	if err != nil {
		return result, err
	}

	logging.LogRelayComplete(addr, result.Sent, result.Received, result.Chunks, result.Summary)
	progress.PrintSummary("All messages transmitted - "+cfg.OutputPath, result.Summary)

	if cfg.Verify {
		if err := Verify(cfg.InputPath, cfg.OutputPath); err != nil {
			return result, err
		}
		result.Verified = true
		slog.Info("Echoed data matches input", "hash_algorithm", "blake2b-256")
	}

	return result, nil
}

// Transfer is one relay session. The connection and both files are closed
// on every return path; the partial result is returned alongside errors.
func Transfer(ctx context.Context, cfg *config.Config) (*Result, error) {
	addr := cfg.Endpoint.String()

	in, err := filesystem.OpenInput(cfg.InputPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out, err := filesystem.CreateOutput(cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	var total int64
	if info, err := in.Stat(); err == nil {
		total = info.Size()
	}

	conn, err := network.Dial(ctx, cfg.Protocol, cfg.Endpoint, cfg.DialTimeout)
	if err != nil {
		logging.LogConnectFailure(addr, err)
		return nil, err
	}
	defer conn.Close()
	defer network.CloseOnCancel(ctx, conn)()

	reply := readDatagramReply
	if cfg.Protocol == config.TCP {
		reply = readFullReply
		if err := network.OptimizeTCPConnection(conn); err != nil {
			slog.Warn("Failed to optimize TCP connection", "error", err)
		}
	}

	logging.LogSessionStart("relay", addr, total)

	stats := progress.NewStats("relay", total)
	if cfg.ShowProgress {
		reporter := progress.NewReporter(stats)
		reporter.Start()
		defer reporter.Stop()
	}

	meter := throughput.Start()
	chunks, err := relayChunks(conn, in, out, cfg, reply, stats)

	result := &Result{
		Sent:     stats.Sent(),
		Received: stats.Received(),
		Chunks:   chunks,
		Summary:  meter.Summarize(stats.Sent()),
	}

	if err != nil {
		if ctx.Err() != nil {
			return result, errors.ErrCancelled
		}
		if errors.Classify(err).IsConnection() {
			logging.LogConnectFailure(addr, err)
		}
		return result, err
	}
	return result, nil
}

// relayChunks runs the send/receive loop until in is exhausted. It returns
// the number of chunks that completed a round trip.
func relayChunks(conn net.Conn, in io.Reader, out io.Writer, cfg *config.Config,
	reply replyReader, stats *progress.Stats) (int, error) {

	addr := cfg.Endpoint.String()
	sendBuf := make([]byte, cfg.ChunkSize)
	recvBuf := make([]byte, cfg.ChunkSize)
	chunks := 0

	for {
		n, err := io.ReadFull(in, sendBuf)
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return chunks, errors.NewFileSystemError("read", cfg.InputPath, err)
		}
		chunk := sendBuf[:n]

		if _, err := network.SendAll(conn, chunk, 0, stats); err != nil {
			return chunks, errors.NewNetworkError("send", addr, err)
		}

		if err := network.SetReplyDeadline(conn, cfg.Timeout); err != nil {
			return chunks, errors.NewNetworkError("set_deadline", addr, err)
		}

		// Never ask for more than was sent.
		got, rerr := reply(conn, recvBuf[:len(chunk)])
		if got > 0 {
			stats.AddReceived(int64(got))
			if _, err := out.Write(recvBuf[:got]); err != nil {
				return chunks, errors.NewFileSystemError("write", cfg.OutputPath, err)
			}
		}
		if rerr != nil {
			if rerr == io.ErrUnexpectedEOF || rerr == io.EOF {
				rerr = fmt.Errorf("peer closed after %d of %d reply bytes: %w", got, len(chunk), io.ErrUnexpectedEOF)
			}
			return chunks, errors.NewNetworkError("receive", addr, rerr)
		}

		chunks++
	}
}

// Verify compares the BLAKE2b digests of the input and the echoed output.
func Verify(inputPath, outputPath string) error {
	want, err := filesystem.HashFile(inputPath)
	if err != nil {
		return err
	}
	got, err := filesystem.HashFile(outputPath)
	if err != nil {
		return err
	}
	if want != got {
		return errors.NewValidationError("output", outputPath,
			fmt.Sprintf("echoed data does not match input (blake2b %s != %s)", got, want))
	}
	return nil
}
