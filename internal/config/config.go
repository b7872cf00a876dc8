package config

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/alecthomas/kingpin.v2"

	"rawxfer/internal/errors"
)

// Constants for default values
const (
	DefaultSendAddr     = "172.17.0.1" // docker bridge gateway
	DefaultSendPort     = 11000
	DefaultUDPRelayPort = 12000
	DefaultListenAddr   = "127.0.0.1"
	DefaultListenPort   = 5555

	DefaultChunkSize   = 1024
	DefaultWriteSize   = 64 * 1024
	DefaultDialTimeout = 5 * time.Second
	DefaultTimeout     = 10 * time.Second
	DefaultIdleTimeout = 3 * time.Second
	DefaultLogFile     = "logs/rawxfer.log"
	DefaultLogLevel    = "info"

	MaxChunkSize = 64 * 1024 // largest UDP payload we try to move in one datagram

	// MaxPayloadSize bounds the repeated send payload held in memory
	MaxPayloadSize int64 = 4 << 30

	// File system constants
	LogDirPerms    = 0755
	OutputFilePerm = 0644
)

// Mode selects which role the process plays.
type Mode string

const (
	ModeSend    Mode = "send"
	ModeReceive Mode = "receive"
	ModeRelay   Mode = "relay"
)

// Protocol is the transport used for a session.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// Endpoint is a host/port pair used to bind or connect. It is not validated
// beyond the port range; bad hosts surface as dial or listen errors.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Config holds all configuration parameters for one process run
type Config struct {
	Mode     Mode
	Protocol Protocol
	Endpoint Endpoint

	InputPath  string
	OutputPath string

	// Bulk send
	Multi     int
	Runs      int
	WriteSize int

	// Relay and receive
	ChunkSize   int
	Echo        bool
	Verify      bool
	Timeout     time.Duration
	IdleTimeout time.Duration

	DialTimeout  time.Duration
	ShowProgress bool

	LogFile  string
	LogLevel string
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Endpoint.Port < 0 || c.Endpoint.Port > 65535 {
		return errors.NewValidationError("port", c.Endpoint.Port, "port must be between 0 and 65535")
	}
	if c.DialTimeout < 0 || c.Timeout < 0 || c.IdleTimeout < 0 {
		return errors.NewValidationError("timeout", c.Timeout, "timeouts cannot be negative")
	}

	switch c.Mode {
	case ModeSend:
		if c.InputPath == "" {
			return errors.NewValidationError("input", c.InputPath, "input file is required")
		}
		if c.Multi < 1 {
			return errors.NewValidationError("multi", c.Multi, "multi must be at least 1")
		}
		if c.Runs < 1 {
			return errors.NewValidationError("runs", c.Runs, "runs must be at least 1")
		}
		if c.WriteSize <= 0 {
			return errors.NewValidationError("write_size", c.WriteSize, "write size must be positive")
		}
	case ModeRelay:
		if c.InputPath == "" {
			return errors.NewValidationError("input", c.InputPath, "input file is required")
		}
		if c.OutputPath == "" {
			return errors.NewValidationError("output", c.OutputPath, "output file is required")
		}
		if err := c.validateChunk(); err != nil {
			return err
		}
	case ModeReceive:
		if err := c.validateChunk(); err != nil {
			return err
		}
		if c.Protocol == UDP && c.IdleTimeout <= 0 {
			return errors.NewValidationError("idle_timeout", c.IdleTimeout, "udp receiver needs a positive idle timeout")
		}
	default:
		return errors.NewValidationError("mode", c.Mode, "unknown mode")
	}

	if c.Mode != ModeSend && c.Protocol != TCP && c.Protocol != UDP {
		return errors.NewValidationError("proto", c.Protocol, "protocol must be tcp or udp")
	}

	return nil
}

func (c *Config) validateChunk() error {
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return errors.NewValidationError("chunk", c.ChunkSize,
			fmt.Sprintf("chunk size must be between 1 and %d", MaxChunkSize))
	}
	return nil
}

// ParseArgs parses command line arguments (without the program name) and
// returns a validated Config. Defaults may be overridden from the
// environment or a .env file in the working directory.
func ParseArgs(args []string) (*Config, error) {
	return parseArgs(args, io.Discard)
}

// ParseArgsWithUsage is ParseArgs with usage and parse errors written to w.
func ParseArgsWithUsage(args []string, w io.Writer) (*Config, error) {
	return parseArgs(args, w)
}

func parseArgs(args []string, w io.Writer) (*Config, error) {
	_ = godotenv.Load() // ignore error if .env not found

	app := kingpin.New("rawxfer", "Move file contents over raw TCP/UDP and measure throughput.")
	app.UsageWriter(w)
	app.ErrorWriter(w)

	logFile := app.Flag("log-file", "Rotating log file (empty for console only)").
		Envar("RAWXFER_LOG_FILE").Default(DefaultLogFile).String()
	logLevel := app.Flag("log-level", "Log level").
		Default(DefaultLogLevel).Enum("debug", "info", "warn", "error")

	// send
	send := app.Command("send", "Send a whole file (optionally repeated) over TCP.")
	sendInput := send.Flag("input", "File to read the data set from").Required().String()
	sendAddr := send.Flag("addr", "Destination IP address").
		Envar("RAWXFER_ADDR").Default(DefaultSendAddr).String()
	sendPort := send.Flag("port", "Destination port").
		Envar("RAWXFER_PORT").Default(strconv.Itoa(DefaultSendPort)).Int()
	sendMulti := send.Flag("multi", "Repeat the file contents this many times").Default("1").Int()
	sendRuns := send.Flag("runs", "Run the transfer this many times").Default("1").Int()
	sendWriteSize := send.Flag("write-size", "Bytes handed to the socket per write").
		Default(strconv.Itoa(DefaultWriteSize)).Int()
	sendDialTimeout := send.Flag("dial-timeout", "Connect timeout").
		Default(DefaultDialTimeout.String()).Duration()
	sendProgress := send.Flag("progress", "Show a progress bar").Bool()

	// receive
	recv := app.Command("receive", "Listen and count inbound bytes.")
	recvAddr := recv.Flag("addr", "Bind IP address").
		Envar("RAWXFER_LISTEN_ADDR").Default(DefaultListenAddr).String()
	recvPort := recv.Flag("port", "Bind port").
		Envar("RAWXFER_LISTEN_PORT").Default(strconv.Itoa(DefaultListenPort)).Int()
	recvProto := recv.Flag("proto", "Transport").Default(string(TCP)).Enum(string(TCP), string(UDP))
	recvChunk := recv.Flag("chunk", "Read size in bytes").Default(strconv.Itoa(DefaultChunkSize)).Int()
	recvEcho := recv.Flag("echo", "Echo every chunk back to the sender").Bool()
	recvOutput := recv.Flag("output", "Write received data to this file").String()
	recvIdle := recv.Flag("idle-timeout", "UDP: silence that ends a session").
		Default(DefaultIdleTimeout.String()).Duration()

	// relay
	relay := app.Command("relay", "Send a file chunk by chunk and store the echoed reply.")
	relayInput := relay.Flag("input", "File to read the data set from").Required().String()
	relayOutput := relay.Flag("output", "File to write the received data to").Required().String()
	relayAddr := relay.Flag("addr", "Destination IP address").
		Envar("RAWXFER_ADDR").Default(DefaultSendAddr).String()
	relayPort := relay.Flag("port", "Destination port (11000 for tcp, 12000 for udp)").
		Envar("RAWXFER_PORT").Default("0").Int()
	relayProto := relay.Flag("proto", "Transport").Default(string(TCP)).Enum(string(TCP), string(UDP))
	relayChunk := relay.Flag("chunk", "Chunk size in bytes").Default(strconv.Itoa(DefaultChunkSize)).Int()
	relayTimeout := relay.Flag("timeout", "Reply timeout per chunk (0 waits forever)").
		Default(DefaultTimeout.String()).Duration()
	relayDialTimeout := relay.Flag("dial-timeout", "Connect timeout").
		Default(DefaultDialTimeout.String()).Duration()
	relayVerify := relay.Flag("verify", "Compare input and output digests afterwards").Bool()
	relayProgress := relay.Flag("progress", "Show a progress bar").Bool()

	cmd, err := app.Parse(args)
	if err != nil {
		return nil, errors.NewValidationError("arguments", args, err.Error())
	}

	cfg := &Config{
		LogFile:  *logFile,
		LogLevel: *logLevel,
	}

	switch cmd {
	case send.FullCommand():
		cfg.Mode = ModeSend
		cfg.Protocol = TCP
		cfg.Endpoint = Endpoint{Host: *sendAddr, Port: *sendPort}
		cfg.InputPath = *sendInput
		cfg.Multi = *sendMulti
		cfg.Runs = *sendRuns
		cfg.WriteSize = *sendWriteSize
		cfg.DialTimeout = *sendDialTimeout
		cfg.ShowProgress = *sendProgress
	case recv.FullCommand():
		cfg.Mode = ModeReceive
		cfg.Protocol = Protocol(*recvProto)
		cfg.Endpoint = Endpoint{Host: *recvAddr, Port: *recvPort}
		cfg.ChunkSize = *recvChunk
		cfg.Echo = *recvEcho
		cfg.OutputPath = *recvOutput
		cfg.IdleTimeout = *recvIdle
	case relay.FullCommand():
		cfg.Mode = ModeRelay
		cfg.Protocol = Protocol(*relayProto)
		cfg.Endpoint = Endpoint{Host: *relayAddr, Port: *relayPort}
		if cfg.Endpoint.Port == 0 {
			cfg.Endpoint.Port = DefaultRelayPort(cfg.Protocol)
		}
		cfg.InputPath = *relayInput
		cfg.OutputPath = *relayOutput
		cfg.ChunkSize = *relayChunk
		cfg.Timeout = *relayTimeout
		cfg.DialTimeout = *relayDialTimeout
		cfg.Verify = *relayVerify
		cfg.ShowProgress = *relayProgress
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultRelayPort returns the port the echo servers listen on for proto.
func DefaultRelayPort(proto Protocol) int {
	if proto == UDP {
		return DefaultUDPRelayPort
	}
	return DefaultSendPort
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	switch c.Mode {
	case ModeSend:
		return fmt.Sprintf("Config{Mode: send, Endpoint: %s, Multi: %d, Runs: %d, WriteSize: %d}",
			c.Endpoint, c.Multi, c.Runs, c.WriteSize)
	case ModeRelay:
		return fmt.Sprintf("Config{Mode: relay, Proto: %s, Endpoint: %s, ChunkSize: %d, Verify: %v}",
			c.Protocol, c.Endpoint, c.ChunkSize, c.Verify)
	default:
		return fmt.Sprintf("Config{Mode: %s, Proto: %s, Endpoint: %s, ChunkSize: %d, Echo: %v}",
			c.Mode, c.Protocol, c.Endpoint, c.ChunkSize, c.Echo)
	}
}
