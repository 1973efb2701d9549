package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ClawdCity-Host/internal/component"
	"ClawdCity-Host/internal/config"
	"ClawdCity-Host/internal/core/network"
	"ClawdCity-Host/internal/hostapi"
	"ClawdCity-Host/internal/instance"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the component host",
		Example: `  component-host serve
  component-host serve --config host.yaml --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Listen = addr
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the host config file")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	events, peers, closeEvents, err := newEventsTransport(ctx, cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}

	inbound := network.NewMemoryPubSub(network.WithBlockingDelivery())
	registry, err := component.New(inbound, resolver,
		component.WithLogger(logger),
		component.WithTopic(cfg.ChannelTopic),
		component.WithRegisterer(promReg),
	)
	if err != nil {
		return err
	}
	defer registry.Close()

	bridge := network.NewWebSocketBridge(inbound, cfg.ChannelTopic, cfg.AllowedOrigins, logger)
	instances := instance.NewManager(registry, bridge, events, logger)
	defer instances.Close()
	instances.AllowComponents(cfg.Components.Allowed...)

	bridge.SetLifecycleHooks(func(src *network.Source, name string) error {
		_, err := instances.Attach(src, name)
		return err
	}, func(src *network.Source) {
		if err := instances.Detach(src); err != nil {
			logger.Debug("detach", zap.Stringer("source", src), zap.Error(err))
		}
	})

	opts := hostapi.Options{
		Instances:     instances,
		Resolver:      registry,
		Frames:        bridge,
		ComponentsDir: cfg.Components.Dir,
		Peers:         peers,
		Logger:        logger,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
		opts.MetricsPath = cfg.Metrics.Path
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           hostapi.NewServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown does not touch hijacked connections, so frames are closed here.
	srv.RegisterOnShutdown(bridge.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("component host listening",
			zap.String("addr", cfg.Listen),
			zap.String("base_url", cfg.BaseURL),
			zap.String("topic", registry.Topic()),
			zap.String("events", cfg.Events.Transport),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Int("frames", bridge.Connected()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// newEventsTransport returns the transport for instance events. The libp2p
// transport also reports its peers on /api/network.
func newEventsTransport(ctx context.Context, cfg config.EventsSection, logger *zap.Logger) (network.PubSub, hostapi.PeerLister, func(), error) {
	if cfg.Transport != config.TransportLibp2p {
		return network.NewMemoryPubSub(network.WithMemoryLogger(logger)), nil, func() {}, nil
	}
	p2p, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
		ListenAddrs:     cfg.Libp2p.ListenAddrs,
		Bootstrap:       cfg.Libp2p.Bootstrap,
		Rendezvous:      cfg.Libp2p.Rendezvous,
		EnableMDNS:      cfg.Libp2p.EnableMDNS,
		IdentityKeyFile: cfg.Libp2p.IdentityKeyFile,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("start libp2p events transport: %w", err)
	}
	logger.Info("libp2p events transport started",
		zap.String("peer_id", p2p.PeerID()),
		zap.Strings("listen", p2p.ListenAddrs()),
	)
	return p2p, p2p, func() { _ = p2p.Close() }, nil
}
