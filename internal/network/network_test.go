package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawxfer/internal/config"
	xerrors "rawxfer/internal/errors"
	"rawxfer/internal/progress"
)

// trickleWriter accepts at most limit bytes per Write call
type trickleWriter struct {
	buf   bytes.Buffer
	limit int
	calls int
}

func (w *trickleWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.buf.Write(p)
}

type stuckWriter struct{}

func (stuckWriter) Write(p []byte) (int, error) { return 0, nil }

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, io.ErrClosedPipe
	}
	n := min(len(p), w.after)
	w.after -= n
	return n, nil
}

func loopback(port int) config.Endpoint {
	return config.Endpoint{Host: "127.0.0.1", Port: port}
}

func TestSendAllRetriesPartialWrites(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10000)
	w := &trickleWriter{limit: 7}
	stats := progress.NewStats("test", int64(len(data)))

	n, err := SendAll(w, data, 1024, stats)

	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, w.buf.Bytes())
	assert.Equal(t, int64(len(data)), stats.Sent())
	assert.Greater(t, w.calls, len(data)/1024)
}

func TestSendAllZeroWriteIsShortWrite(t *testing.T) {
	n, err := SendAll(stuckWriter{}, []byte("abc"), 0, nil)

	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestSendAllReportsPrefixOnError(t *testing.T) {
	n, err := SendAll(&failingWriter{after: 5}, []byte("0123456789"), 3, nil)

	assert.Equal(t, int64(5), n)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestSendAllEmpty(t *testing.T) {
	n, err := SendAll(stuckWriter{}, nil, 0, nil)

	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = Dial(context.Background(), config.TCP, loopback(port), time.Second)
	require.Error(t, err)

	var ne *xerrors.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "dial", ne.Op)
	assert.Equal(t, loopback(port).String(), ne.Addr)
	assert.Equal(t, xerrors.KindRefused, ne.Kind)
}

func TestListenAddressInUse(t *testing.T) {
	ln, err := Listen(context.Background(), loopback(0))
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	_, err = Listen(context.Background(), loopback(port))
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrNetwork))
}

func TestCloseOnCancelUnblocksAccept(t *testing.T) {
	ln, err := Listen(context.Background(), loopback(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	CloseOnCancel(ctx, ln)

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("accept did not return after cancel")
	}
}

func TestCloseWriteSignalsEOF(t *testing.T) {
	ln, err := Listen(context.Background(), loopback(0))
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			got <- nil
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		conn.Write([]byte("ok"))
		got <- data
	}()

	conn, err := Dial(context.Background(), config.TCP, loopback(ln.Addr().(*net.TCPAddr).Port), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, OptimizeTCPConnection(conn))

	_, err = SendAll(conn, []byte("payload"), 0, nil)
	require.NoError(t, err)
	require.NoError(t, CloseWrite(conn))

	assert.Equal(t, []byte("payload"), <-got)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(reply))
}

func TestSetReplyDeadline(t *testing.T) {
	pc, err := ListenPacket(context.Background(), loopback(0))
	require.NoError(t, err)
	defer pc.Close()

	conn, err := Dial(context.Background(), config.UDP, loopback(pc.LocalAddr().(*net.UDPAddr).Port), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, SetReplyDeadline(conn, 20*time.Millisecond))
	_, err = conn.Read(make([]byte, 16))
	require.Error(t, err)
	assert.Equal(t, xerrors.KindTimeout, xerrors.Classify(err))

	require.NoError(t, SetReplyDeadline(conn, 0))
}
