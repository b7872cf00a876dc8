package network

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"rawxfer/internal/config"
	"rawxfer/internal/errors"
	"rawxfer/internal/progress"
)

// TCPBufferSize is the kernel socket buffer requested for bulk transfers
const TCPBufferSize = 1024 * 1024

// Dial connects to ep over proto. A refused or unreachable destination comes
// back as an *errors.NetworkError carrying the matching Kind.
func Dial(ctx context.Context, proto config.Protocol, ep config.Endpoint, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, string(proto), ep.String())
	if err != nil {
		return nil, errors.NewNetworkError("dial", ep.String(), err)
	}
	return conn, nil
}

// Listen binds a TCP listener on ep
func Listen(ctx context.Context, ep config.Endpoint) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ep.String())
	if err != nil {
		return nil, errors.NewNetworkError("listen", ep.String(), err)
	}
	return ln, nil
}

// ListenPacket binds a UDP socket on ep
func ListenPacket(ctx context.Context, ep config.Endpoint) (net.PacketConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", ep.String())
	if err != nil {
		return nil, errors.NewNetworkError("listen", ep.String(), err)
	}
	return pc, nil
}

// CloseOnCancel closes c once ctx is done so blocked reads, writes and
// accepts return. The returned function detaches the hook.
func CloseOnCancel(ctx context.Context, c io.Closer) func() bool {
	return context.AfterFunc(ctx, func() {
		c.Close()
	})
}

// SendAll writes every byte of data to w in pieces of at most pieceSize,
// retrying partial writes. It returns the number of bytes accepted.
func SendAll(w io.Writer, data []byte, pieceSize int, stats *progress.Stats) (int64, error) {
	if pieceSize <= 0 {
		pieceSize = len(data)
	}

	var sent int64
	for len(data) > 0 {
		piece := data
		if len(piece) > pieceSize {
			piece = piece[:pieceSize]
		}

		n, err := w.Write(piece)
		sent += int64(n)
		if stats != nil {
			stats.AddSent(int64(n))
		}
		data = data[n:]

		if err != nil {
			return sent, err
		}
		if n == 0 {
			return sent, io.ErrShortWrite
		}
	}
	return sent, nil
}

// CloseWrite half-closes a TCP connection so the peer reads EOF while the
// read side stays usable.
func CloseWrite(conn net.Conn) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		return tcpConn.CloseWrite()
	}
	return nil
}

// OptimizeTCPConnection applies TCP optimizations to a connection
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead connections
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	// Small relay chunks must leave immediately
	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	if err := tcpConn.SetReadBuffer(TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP read buffer", "error", err)
	}

	if err := tcpConn.SetWriteBuffer(TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP write buffer", "error", err)
	}

	return nil
}

// SetReplyDeadline bounds the next read on conn by timeout; zero clears it.
func SetReplyDeadline(conn net.Conn, timeout time.Duration) error {
	if timeout <= 0 {
		return conn.SetReadDeadline(time.Time{})
	}
	return conn.SetReadDeadline(time.Now().Add(timeout))
}
