package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/sealbid/agent"
	"github.com/cloudx-io/sealbid/attest"
	"github.com/cloudx-io/sealbid/config"
	"github.com/cloudx-io/sealbid/core"
	"github.com/cloudx-io/sealbid/events"
	"github.com/cloudx-io/sealbid/ledger"
	"github.com/cloudx-io/sealbid/ledgerapi"
	"github.com/cloudx-io/sealbid/receipt"
	"github.com/cloudx-io/sealbid/server"
	"github.com/cloudx-io/sealbid/store"
)

// ServeOptions holds flags for the serve command. Set flags override the
// config file.
type ServeOptions struct {
	*RootOptions
	ConfigPath string

	Network     string
	Address     string
	VsockPort   uint32
	MaxWorkers  int
	StoreDriver string
	StoreDSN    string
	LogLevel    string
	LogFormat   string
	Agent       bool
}

// feedPollInterval bounds how stale a subscriber can be when another process
// shares the store and no in-process notification arrives.
const feedPollInterval = time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP API",
		Long: `Run the sealed-bid auction ledger HTTP API.

Configuration is read from --config (YAML) and individual flags override it.
With agent.enabled the payment agent runs in-process against a simulated rail.

Example:
  sealbidd serve --config /etc/sealbid/sealbid.yaml
  sealbidd serve --store-driver sqlite --store-dsn ./journal.db --listen :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return wrapExit(ExitCommandError, "invalid configuration", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	f.StringVar(&opts.Network, "network", "", "listen network (tcp|vsock)")
	f.StringVar(&opts.Address, "listen", "", "tcp listen address")
	f.Uint32Var(&opts.VsockPort, "vsock-port", 0, "vsock listen port")
	f.IntVar(&opts.MaxWorkers, "max-workers", 0, "maximum in-flight requests")
	f.StringVar(&opts.StoreDriver, "store-driver", "", "store driver (memory|sqlite|postgres)")
	f.StringVar(&opts.StoreDSN, "store-dsn", "", "sqlite path or postgres connection string")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	f.StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")
	f.BoolVar(&opts.Agent, "agent", false, "run the payment agent in-process")

	return cmd
}

// loadServeConfig loads the file and applies the flags the user set.
func loadServeConfig(cmd *cobra.Command, opts *ServeOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("network") {
		cfg.Listen.Network = opts.Network
	}
	if f.Changed("listen") {
		cfg.Listen.Address = opts.Address
	}
	if f.Changed("vsock-port") {
		cfg.Listen.VsockPort = opts.VsockPort
	}
	if f.Changed("max-workers") {
		cfg.Listen.MaxWorkers = opts.MaxWorkers
	}
	if f.Changed("store-driver") {
		cfg.Store.Driver = opts.StoreDriver
	}
	if f.Changed("store-dsn") {
		cfg.Store.DSN = opts.StoreDSN
	}
	if f.Changed("log-level") {
		cfg.Log.Level = opts.LogLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = opts.LogFormat
	}
	if f.Changed("agent") {
		cfg.Agent.Enabled = opts.Agent
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve wires the ledger, the HTTP server and, when enabled, the payment agent,
// and runs until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	log, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return wrapExit(ExitCommandError, "logger", err)
	}
	slog.SetDefault(log)

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return wrapExit(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("error closing store", slog.Any("error", err))
		}
	}()
	log.Info("store ready", slog.String("driver", cfg.Store.Driver))

	scheme, err := core.SchemeByName(cfg.Auction.Scheme)
	if err != nil {
		return wrapExit(ExitCommandError, "commitment scheme", err)
	}
	feed := events.NewFeed(st, feedPollInterval)
	l := ledger.New(st, ledger.Options{
		Windows:    cfg.Windows(),
		MaxBidders: cfg.Auction.MaxBidders,
		Scheme:     scheme,
		Logger:     log,
		Feed:       feed,
	})
	clock := ledger.NewMonotonicClock(ledger.SystemClock{})

	if err := bootstrap(ctx, l, cfg.Access, clock.Now(), log); err != nil {
		return wrapExit(ExitCommandError, "bootstrap access", err)
	}

	signer, err := loadSigner(cfg.Receipt)
	if err != nil {
		return wrapExit(ExitCommandError, "receipt key", err)
	}
	keyID := fmt.Sprintf("%x", signer.KeyID())
	log.Info("receipt signer ready", slog.String("key_id", keyID))

	attester, err := attest.NSM()
	if err != nil {
		log.Info("NSM not available, attestation endpoint disabled", slog.Any("error", err))
	}

	srv := server.New(l, server.Options{
		Clock:      clock,
		Signer:     signer,
		Attester:   attester,
		MaxWorkers: cfg.Listen.MaxWorkers,
		Logger:     log,
	})
	var payer *agent.Agent
	if cfg.Agent.Enabled {
		recorder, err := core.ParseAddress(cfg.Agent.Recorder)
		if err != nil {
			return wrapExit(ExitCommandError, "agent recorder", err)
		}
		payer = agent.New(feed, &agent.SimulatedRail{Logger: log}, l.Payments, recorder, agent.Options{
			MaxAttempts: cfg.Agent.MaxAttempts,
			Backoff:     cfg.Agent.Backoff,
			Clock:       clock,
			Logger:      log,
		})
	}

	ln, err := server.Listen(cfg.Listen)
	if err != nil {
		return wrapExit(ExitCommandError, "listen", err)
	}
	if headerAuthExposed(cfg.Listen) {
		log.Warn("callers are identified by the "+ledgerapi.CallerHeader+" header on a non-loopback address; "+
			"only run this behind a proxy that sets it",
			slog.String("listen", cfg.Listen.Address))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	if payer != nil {
		g.Go(func() error {
			return payer.Run(gctx, 1)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return wrapExit(ExitFailure, "server error", err)
	}
	log.Info("sealbidd stopped")
	return nil
}

// headerAuthExposed reports whether clients other than a local proxy can reach
// the listener and choose their own caller identity.
func headerAuthExposed(cfg config.ListenConfig) bool {
	if cfg.Network != "tcp" {
		return false
	}
	host, _, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		return true
	}
	if host == "localhost" {
		return false
	}
	ip := net.ParseIP(host)
	return ip == nil || !ip.IsLoopback()
}

func bootstrap(ctx context.Context, l *ledger.Ledger, access config.AccessConfig, now time.Time, log *slog.Logger) error {
	owner, bidders, recorders, err := access.Parse()
	if err != nil {
		return err
	}
	if owner.IsZero() {
		log.Warn("no access.owner configured; the ledger keeps whatever owner the store already has")
		return nil
	}
	applied, err := l.Access.Bootstrap(ctx, owner, bidders, recorders, now)
	if err != nil {
		return err
	}
	if applied {
		log.Info("access bootstrapped",
			slog.String("owner", owner.String()),
			slog.Int("bidders", len(bidders)),
			slog.Int("recorders", len(recorders)))
	} else {
		log.Info("store already has an owner, bootstrap skipped")
	}
	return nil
}

func loadSigner(cfg config.ReceiptConfig) (*receipt.Signer, error) {
	if cfg.KeyFile == "" {
		return receipt.GenerateSigner()
	}
	return receipt.LoadSigner(cfg.KeyFile)
}
