package sender

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawxfer/internal/config"
	xerrors "rawxfer/internal/errors"
)

// countingServer accepts connections one at a time and reports how many
// bytes each delivered before closing its write side.
func countingServer(t *testing.T) (config.Endpoint, <-chan int64) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	counts := make(chan int64, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n, _ := io.Copy(io.Discard, conn)
			conn.Close()
			counts <- n
		}
	}()

	return config.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}, counts
}

func writeInput(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func sendConfig(ep config.Endpoint, input string, multi, runs int) *config.Config {
	return &config.Config{
		Mode:        config.ModeSend,
		Protocol:    config.TCP,
		Endpoint:    ep,
		InputPath:   input,
		Multi:       multi,
		Runs:        runs,
		WriteSize:   config.DefaultWriteSize,
		DialTimeout: time.Second,
	}
}

func receiveCount(t *testing.T, counts <-chan int64) int64 {
	t.Helper()
	select {
	case n := <-counts:
		return n
	case <-time.After(10 * time.Second):
		t.Fatal("receiver did not report")
		return -1
	}
}

func TestSendFileMultiplesPayload(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		multi int
	}{
		{"single copy", 10000, 1},
		{"four copies", 3000, 4},
		{"larger than one write", 200 * 1024, 2},
		{"empty file", 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, counts := countingServer(t)
			cfg := sendConfig(ep, writeInput(t, tt.size), tt.multi, 1)

			summary, err := SendFile(context.Background(), cfg)
			require.NoError(t, err)

			want := int64(tt.size * tt.multi)
			assert.Equal(t, want, summary.Bytes)
			assert.Equal(t, want, receiveCount(t, counts))
		})
	}
}

func TestRunRepeatsIndependentSessions(t *testing.T) {
	ep, counts := countingServer(t)
	cfg := sendConfig(ep, writeInput(t, 1234), 2, 3)

	results, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i+1, r.Run)
		assert.Equal(t, int64(2468), r.Summary.Bytes)
		assert.Equal(t, int64(2468), receiveCount(t, counts))
	}
}

func TestSendFileUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := config.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	ln.Close()

	cfg := sendConfig(ep, writeInput(t, 10), 1, 1)

	start := time.Now()
	_, err = SendFile(context.Background(), cfg)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var ne *xerrors.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, xerrors.KindRefused, ne.Kind)
	assert.Equal(t, ep.String(), ne.Addr)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := config.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	ln.Close()

	results, err := Run(context.Background(), sendConfig(ep, writeInput(t, 10), 1, 5))
	require.Error(t, err)
	assert.Empty(t, results)
	assert.Contains(t, err.Error(), "run 1 of 5")
	assert.Equal(t, xerrors.KindRefused, xerrors.Classify(err))
}

func TestSendFileMissingInput(t *testing.T) {
	ep, _ := countingServer(t)
	cfg := sendConfig(ep, filepath.Join(t.TempDir(), "missing.bin"), 1, 1)

	_, err := SendFile(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrFileSystem))
}

func TestSendFileRejectsOversizedPayload(t *testing.T) {
	ep, counts := countingServer(t)
	cfg := sendConfig(ep, writeInput(t, 10), math.MaxInt/4, 1)

	_, err := SendFile(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrValidation))

	// The connection is closed without any payload.
	assert.Zero(t, receiveCount(t, counts))
}
