// Package config loads the sealbid daemon configuration.
//
// Configuration comes from a single YAML file; command-line flags override
// individual values afterwards. Missing fields keep the values from Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/sealbid/core"
)

// Config is the complete daemon configuration.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Store   StoreConfig   `yaml:"store"`
	Auction AuctionConfig `yaml:"auction"`
	Access  AccessConfig  `yaml:"access"`
	Receipt ReceiptConfig `yaml:"receipt"`
	Log     LogConfig     `yaml:"log"`
	Agent   AgentConfig   `yaml:"agent"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	// Network is "tcp" or "vsock".
	Network string `yaml:"network"`
	// Address is the tcp listen address. Default: 127.0.0.1:8080
	Address string `yaml:"address"`
	// VsockPort is the vsock port when Network is "vsock". Default: 5000
	VsockPort uint32 `yaml:"vsock_port"`
	// MaxWorkers caps in-flight requests; excess requests get 503.
	MaxWorkers int `yaml:"max_workers"`
}

// StoreConfig selects the repository backing.
type StoreConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// AuctionConfig holds the parameters applied to every auction.
type AuctionConfig struct {
	CommitWindow time.Duration `yaml:"commit_window"`
	RevealWindow time.Duration `yaml:"reveal_window"`
	MaxBidders   int           `yaml:"max_bidders"`
	// Scheme is the commitment scheme: "keccak-abi" or "blake3".
	Scheme string `yaml:"scheme"`
}

// AccessConfig bootstraps roles. It is applied only to a store with no owner.
type AccessConfig struct {
	Owner     string   `yaml:"owner"`
	Bidders   []string `yaml:"bidders"`
	Recorders []string `yaml:"recorders"`
}

// ReceiptConfig locates the receipt signing key.
type ReceiptConfig struct {
	// KeyFile is a PEM EC P-256 private key. Empty generates a key in memory
	// at startup.
	KeyFile string `yaml:"key_file"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// AgentConfig runs the payment agent in-process against a simulated rail.
type AgentConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Recorder    string        `yaml:"recorder"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// MaxBiddersLimit is the largest accepted auction.max_bidders.
const MaxBiddersLimit = 1024

// Default returns the configuration used for any field the file omits.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Network:    "tcp",
			Address:    "127.0.0.1:8080",
			VsockPort:  5000,
			MaxWorkers: 64,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Auction: AuctionConfig{
			CommitWindow: core.DefaultWindows.Commit,
			RevealWindow: core.DefaultWindows.Reveal,
			MaxBidders:   core.DefaultMaxBidders,
			Scheme:       core.SchemeKeccakABI,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Agent: AgentConfig{
			MaxAttempts: 5,
			Backoff:     time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown fields.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document leaves the defaults in place.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Listen.Network {
	case "tcp":
		if c.Listen.Address == "" {
			errs = append(errs, errors.New("listen.address is required for tcp"))
		}
	case "vsock":
		if c.Listen.VsockPort == 0 {
			errs = append(errs, errors.New("listen.vsock_port is required for vsock"))
		}
	default:
		errs = append(errs, fmt.Errorf("listen.network %q: must be tcp or vsock", c.Listen.Network))
	}
	if c.Listen.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("listen.max_workers must be positive, got %d", c.Listen.MaxWorkers))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: must be memory, sqlite or postgres", c.Store.Driver))
	}

	if c.Auction.CommitWindow <= 0 {
		errs = append(errs, fmt.Errorf("auction.commit_window must be positive, got %s", c.Auction.CommitWindow))
	}
	if c.Auction.RevealWindow <= 0 {
		errs = append(errs, fmt.Errorf("auction.reveal_window must be positive, got %s", c.Auction.RevealWindow))
	}
	if c.Auction.MaxBidders < 1 || c.Auction.MaxBidders > MaxBiddersLimit {
		errs = append(errs, fmt.Errorf("auction.max_bidders must be in 1..%d, got %d", MaxBiddersLimit, c.Auction.MaxBidders))
	}
	if _, err := core.SchemeByName(c.Auction.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("auction.scheme: %w", err))
	}

	if _, _, _, err := c.Access.Parse(); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}

	if c.Agent.Enabled {
		if _, err := parseMember("agent.recorder", c.Agent.Recorder); err != nil {
			errs = append(errs, err)
		}
		if c.Agent.MaxAttempts <= 0 {
			errs = append(errs, fmt.Errorf("agent.max_attempts must be positive, got %d", c.Agent.MaxAttempts))
		}
	}
	return errors.Join(errs...)
}

// Windows returns the auction windows.
func (c *Config) Windows() core.Windows {
	return core.Windows{Commit: c.Auction.CommitWindow, Reveal: c.Auction.RevealWindow}
}

// Parse converts the bootstrap addresses. A zero owner means no bootstrap.
func (a AccessConfig) Parse() (owner core.Address, bidders, recorders []core.Address, err error) {
	if a.Owner != "" {
		if owner, err = parseMember("access.owner", a.Owner); err != nil {
			return owner, nil, nil, err
		}
	}
	if bidders, err = parseAddresses("access.bidders", a.Bidders); err != nil {
		return owner, nil, nil, err
	}
	if recorders, err = parseAddresses("access.recorders", a.Recorders); err != nil {
		return owner, nil, nil, err
	}
	if owner.IsZero() && (len(bidders) > 0 || len(recorders) > 0) {
		return owner, nil, nil, errors.New("access.bidders and access.recorders require access.owner")
	}
	return owner, bidders, recorders, nil
}

func parseAddresses(field string, in []string) ([]core.Address, error) {
	out := make([]core.Address, 0, len(in))
	for i, s := range in {
		addr, err := parseMember(fmt.Sprintf("%s[%d]", field, i), s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// parseMember parses an address that names a party. The zero address is
// reserved for "no winner" and never names one.
func parseMember(field, s string) (core.Address, error) {
	addr, err := core.ParseAddress(s)
	if err != nil {
		return addr, fmt.Errorf("%s: %w", field, err)
	}
	if addr.IsZero() {
		return addr, fmt.Errorf("%s: must not be the zero address", field)
	}
	return addr, nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w *os.File) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
