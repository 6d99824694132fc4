package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/Consortium-Ledger/api"
	"github.com/VanDung-dev/Consortium-Ledger/config"
	"github.com/VanDung-dev/Consortium-Ledger/consensus"
	"github.com/VanDung-dev/Consortium-Ledger/monitoring"
	"github.com/VanDung-dev/Consortium-Ledger/network"
	"github.com/VanDung-dev/Consortium-Ledger/node"
	"github.com/VanDung-dev/Consortium-Ledger/notify"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "Consortium-Ledger"
)

const (
	metricsNamespace = "consortium"
	noticeTimeout    = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

type flags struct {
	configPath  string
	httpAddr    string
	metricsAddr string
	zmqEndpoint string
	founder     string
	founderRole string
	proposer    string
	version     bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config (built-in defaults when empty)")
	flag.StringVar(&f.httpAddr, "http", "", "HTTP API listen address (overrides node.http_addr)")
	flag.StringVar(&f.metricsAddr, "metrics", "", "Metrics listen address (overrides node.metrics_addr)")
	flag.StringVar(&f.zmqEndpoint, "zmq", "", "ZeroMQ PUB endpoint for notices (overrides notify.zmq_endpoint)")
	flag.StringVar(&f.founder, "founder", "", "Bootstrap the registry with a first member of this name")
	flag.StringVar(&f.founderRole, "founder-role", "", "Role of the -founder member (defaults to roles.first_member)")
	flag.StringVar(&f.proposer, "proposer", "", "Member address that proposes every block.creation_interval; \"founder\" uses the -founder address")
	flag.BoolVar(&f.version, "version", false, "Print version and exit")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.version {
		fmt.Printf("%s v%s\n", Name, Version)
		return
	}

	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			bootLogger.Fatal().Err(err).Str("path", f.configPath).Msg("Failed to load config")
		}
		cfg = loaded
	}
	applyFlags(cfg, f)

	logger := newLogger(cfg.Log)
	logger.Info().Str("version", Version).Msg("Starting " + Name)

	if err := run(cfg, f, logger); err != nil {
		logger.Fatal().Err(err).Msg("Node exited with error")
	}
	logger.Info().Msg("Node stopped")
}

func applyFlags(cfg *config.Config, f flags) {
	if f.httpAddr != "" {
		cfg.Node.HTTPAddr = f.httpAddr
	}
	if f.metricsAddr != "" {
		cfg.Node.MetricsAddr = f.metricsAddr
	}
	if f.zmqEndpoint != "" {
		cfg.Notify.ZmqEndpoint = f.zmqEndpoint
	}
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func run(cfg *config.Config, f flags, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(metricsNamespace, reg)

	sinks := notify.Multi{notify.NewLogNotifier(logger)}
	var pub *network.Publisher
	if cfg.Notify.ZmqEndpoint != "" {
		pub = network.NewPublisher(cfg.Notify.ZmqEndpoint, logger)
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()
		sinks = append(sinks, pub)
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.Notify.Workers, noticeTimeout, metrics, logger)
	defer func() {
		if err := dispatcher.Close(shutdownTimeout); err != nil {
			logger.Warn().Err(err).Msg("Notice queue not drained")
		}
	}()

	n, err := node.New(cfg, node.Options{Notifier: dispatcher, Metrics: metrics}, logger)
	if err != nil {
		return err
	}

	proposer := f.proposer
	if f.founder != "" {
		role := f.founderRole
		if role == "" {
			role = cfg.Roles.FirstMember
		}
		m, err := n.AddFirstMember(f.founder, role)
		if err != nil {
			return fmt.Errorf("bootstrap founder: %w", err)
		}
		logger.Info().Str("name", m.Name).Str("address", m.Address).Str("role", string(m.Role)).Msg("Founder bootstrapped")
		if proposer == "founder" {
			proposer = m.Address
		}
	}
	if proposer == "founder" {
		return errors.New("-proposer founder requires -founder")
	}

	auth := api.NewAuthenticatorFromEnv(api.AuthConfig{Enabled: cfg.Node.AuthEnabled, Token: cfg.Node.AuthToken})
	if auth.IsEnabled() && cfg.Node.AuthToken == "" && os.Getenv("CONSORTIUM_AUTH_TOKEN") == "" {
		logger.Warn().Str("token", auth.Token()).Msg("Auth enabled without a token; generated one")
	}
	server := api.NewServer(n, logger, api.WithAuth(auth), api.WithMetrics(metrics))
	metricsServer := monitoring.NewMetricsServer(cfg.Node.MetricsAddr, reg, n.Health)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, cfg.Node.HTTPAddr) })
	g.Go(func() error { return metricsServer.Run(ctx) })
	g.Go(func() error { return n.Scheduler().Run(ctx) })
	if proposer != "" {
		interval := cfg.Block.CreationInterval.MustDuration()
		g.Go(func() error { return proposeLoop(ctx, n, proposer, interval, logger) })
	}
	return g.Wait()
}

// proposeLoop proposes a block from a non-empty pool on every tick while no
// proposal is open.
func proposeLoop(ctx context.Context, n *node.Node, proposer string, interval time.Duration, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "proposer").Str("proposer", proposer).Logger()
	logger.Info().Dur("interval", interval).Msg("Auto-proposal enabled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n.PoolStats().Size == 0 || len(n.ListPendingBlocks()) > 0 {
				continue
			}
			b, err := n.ProposeBlock(proposer)
			switch {
			case err == nil:
				logger.Info().Int64("index", b.Index).Int("transactions", len(b.Transactions)).Msg("Auto-proposed block")
			case errors.Is(err, consensus.ErrProposalInFlight):
				logger.Debug().Err(err).Msg("Proposal already open")
			default:
				logger.Error().Err(err).Msg("Auto-proposal failed")
			}
		}
	}
}
