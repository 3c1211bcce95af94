// Package config loads relay command configuration from the environment,
// an optional .env file and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server holds relay server configuration.
type Server struct {
	Host          string        `env:"RELAY_HOST"            envDefault:"localhost"`
	Port          int           `env:"RELAY_PORT"            envDefault:"8765"`
	SendQueueSize int           `env:"RELAY_SEND_QUEUE_SIZE" envDefault:"64"`
	WriteTimeout  time.Duration `env:"RELAY_WRITE_TIMEOUT"   envDefault:"10s"`
	LogLevel      string        `env:"RELAY_LOG_LEVEL"       envDefault:"info"`
	// TCPAddr enables the newline-delimited TCP transport when set.
	TCPAddr string `env:"RELAY_TCP_ADDR"`
}

// Client holds relay client configuration.
type Client struct {
	Host        string        `env:"RELAY_HOST"           envDefault:"localhost"`
	Port        int           `env:"RELAY_PORT"           envDefault:"8765"`
	Username    string        `env:"RELAY_USERNAME"`
	DialTimeout time.Duration `env:"RELAY_DIAL_TIMEOUT"   envDefault:"5s"`
	Receive     bool          `env:"RELAY_CLIENT_RECEIVE" envDefault:"false"`
	LogLevel    string        `env:"RELAY_LOG_LEVEL"      envDefault:"warn"`
}

// LoadDotEnv loads variables from the given files (".env" when none are given).
// Missing files are ignored; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

// ParseServer parses environment and flags into a Server config.
func ParseServer(fs *flag.FlagSet, args []string) (Server, error) {
	if fs == nil {
		return Server{}, errNilFlagSet
	}
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Host, "host", cfg.Host, "bind address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "bind port (0 picks a free port)")
	fs.IntVar(&cfg.SendQueueSize, "send-queue", cfg.SendQueueSize, "frames buffered per client before drops")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-frame write timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.TCPAddr, "tcp-addr", cfg.TCPAddr, "optional host:port for line-delimited TCP clients")
	if err := parseArgs(fs, args); err != nil {
		return Server{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Server) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send queue size must be positive, got %d", c.SendQueueSize)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.TCPAddr != "" {
		if _, _, err := net.SplitHostPort(c.TCPAddr); err != nil {
			return fmt.Errorf("invalid tcp address %q: %w", c.TCPAddr, err)
		}
	}
	_, err := ParseLevel(c.LogLevel)
	return err
}

// Address returns the host:port pair to listen on.
func (c Server) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParseClient parses environment and flags into a Client config.
// An empty username falls back to the local operating-system user.
func ParseClient(fs *flag.FlagSet, args []string) (Client, error) {
	if fs == nil {
		return Client{}, errNilFlagSet
	}
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Host, "host", cfg.Host, "server host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	fs.StringVar(&cfg.Username, "username", cfg.Username, "display name (defaults to the OS user)")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "connection timeout")
	fs.BoolVar(&cfg.Receive, "receive", cfg.Receive, "print messages from other clients")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := parseArgs(fs, args); err != nil {
		return Client{}, err
	}

	if cfg.Username == "" {
		cfg.Username = DefaultUsername()
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Client) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", c.DialTimeout)
	}
	_, err := ParseLevel(c.LogLevel)
	return err
}

// URL returns the WebSocket URL of the server.
func (c Client) URL() string {
	return "ws://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/"
}

// DefaultUsername returns the name of the local user, used for display only.
func DefaultUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "anonymous"
}

// ParseLevel converts a level name such as "info" or "WARN" to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// NewLogger builds the process logger writing text records to w.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

var errNilFlagSet = errors.New("flag parser is required")

func parseArgs(fs *flag.FlagSet, args []string) error {
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}
