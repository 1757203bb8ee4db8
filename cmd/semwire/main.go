// Package main implements the semwire runtime binary. It loads component
// descriptors from a configuration file, connects to NATS when configured,
// and serves metrics, health and the component API over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/multierr"

	"github.com/c360/semwire/component"
	"github.com/c360/semwire/componentregistry"
	"github.com/c360/semwire/config"
	"github.com/c360/semwire/engine"
	"github.com/c360/semwire/health"
	"github.com/c360/semwire/metric"
	"github.com/c360/semwire/natsclient"
	"github.com/c360/semwire/registry"
	"github.com/c360/semwire/remote"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semwire"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// app holds everything started by run, in start order.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	monitor *health.Monitor

	nats      *natsclient.Client
	rt        *engine.Runtime
	manager   *config.Manager
	announcer *remote.Announcer
	mirror    *remote.Mirror
	server    *metric.Server
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		cliCfg.usage()
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	logger, err := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat, cfg.Runtime.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	slog.SetDefault(logger)
	logger.Info("Starting semwire",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"runtime_id", cfg.Runtime.ID)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		monitor: health.NewMonitor(logger),
	}

	if cliCfg.Validate {
		return a.validate()
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := a.start(signalCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		return multierr.Append(err, a.shutdown(shutdownCtx))
	}
	logger.Info("semwire started", "components", len(a.rt.Components()))

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("semwire shutdown complete")
	return nil
}

// loadConfig loads and validates the configuration file
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewLoader().LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newImplementations() (*component.Registry, error) {
	impls := component.NewRegistry()
	if err := componentregistry.Register(impls); err != nil {
		return nil, fmt.Errorf("register implementations: %w", err)
	}
	return impls, nil
}

// validate checks the descriptors without starting anything
func (a *app) validate() error {
	impls, err := newImplementations()
	if err != nil {
		return err
	}
	result := engine.NewValidator(impls, a.logger).Validate(a.cfg.Components)
	for _, w := range result.Warnings {
		a.logger.Warn("Descriptor warning", "component", w.ComponentName, "type", w.Type, "message", w.Message)
	}
	if len(result.Errors) > 0 {
		return &engine.ValidationError{Result: result}
	}
	a.logger.Info("Configuration is valid", "components", len(a.cfg.Components), "links", len(result.Links))
	return nil
}

func (a *app) start(ctx context.Context) error {
	if len(a.cfg.NATS.URLs) > 0 {
		if err := a.connectNATS(ctx); err != nil {
			return err
		}
	}

	if err := a.startRuntime(); err != nil {
		return err
	}

	if a.nats != nil {
		if err := a.startConfigManager(ctx); err != nil {
			return err
		}
	}
	if a.cfg.Remote.Enabled {
		if err := a.startRemote(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Metrics.Port > 0 {
		a.startServer()
	}
	return nil
}

func (a *app) connectNATS(ctx context.Context) error {
	nc := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + a.cfg.Runtime.ID),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.metrics),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait.Std()),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				a.monitor.UpdateHealthy("nats", "Connected")
			} else {
				a.monitor.UpdateUnhealthy("nats", "Disconnected")
			}
		}),
	}
	switch {
	case nc.Token != "":
		opts = append(opts, natsclient.WithToken(nc.Token))
	case nc.Username != "":
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(nc.TLS.CertFile, nc.TLS.KeyFile, nc.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	a.logger.Info("Connecting to NATS", "urls", nc.URLs)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

func (a *app) startRuntime() error {
	impls, err := newImplementations()
	if err != nil {
		return err
	}

	rcfg := engine.Config{
		ID:              a.cfg.Runtime.ID,
		Implementations: impls,
		Logger:          a.logger,
		Metrics:         a.metrics,
		FactoryEnabled:  a.cfg.Runtime.FactoryEnabled,
		ShowTrace:       a.cfg.Runtime.ShowTrace,
		ShowErrors:      a.cfg.Runtime.ShowErrors,
	}
	if a.nats != nil && a.cfg.Runtime.LogToNATS {
		rcfg.LogPublisher = a.nats
	}
	rt, err := engine.New(rcfg)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	a.rt = rt
	a.monitor.AddSource(rt)

	// components referencing natsclient.Client bind to the shared connection
	if a.nats != nil {
		_, err := rt.Registry().Context("nats").Register(
			[]string{natsclient.ServiceInterface}, a.nats,
			registry.Properties{"url": a.nats.URL()})
		if err != nil {
			return fmt.Errorf("register NATS client: %w", err)
		}
	}

	if err := rt.Load(a.cfg.Components); err != nil {
		return fmt.Errorf("load components: %w", err)
	}
	return nil
}

func (a *app) startConfigManager(ctx context.Context) error {
	manager, err := config.NewConfigManager(ctx, a.cfg, a.nats, a.rt, a.logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	a.manager = manager
	return nil
}

func (a *app) startRemote(ctx context.Context) error {
	rc := a.cfg.Remote
	kv, err := a.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      rc.Bucket,
		Description: "semwire exported services",
		History:     1,
		TTL:         rc.TTL.Std(),
	})
	if err != nil {
		return fmt.Errorf("open service bucket %s: %w", rc.Bucket, err)
	}
	store := a.nats.NewKVStore(kv)

	announcer, err := remote.NewAnnouncer(remote.AnnouncerConfig{
		RuntimeID:      a.rt.ID(),
		Registry:       a.rt.Registry(),
		Bucket:         store,
		ExportProperty: rc.ExportProperty,
		Refresh:        rc.TTL.Std() / 2,
		WriteRate:      rc.WriteRate,
		WriteBurst:     10,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	if err != nil {
		return fmt.Errorf("create announcer: %w", err)
	}
	if err := announcer.Start(ctx); err != nil {
		return fmt.Errorf("start announcer: %w", err)
	}
	a.announcer = announcer

	mirror, err := remote.NewMirror(remote.MirrorConfig{
		RuntimeID: a.rt.ID(),
		Registry:  a.rt.Registry(),
		Store:     store,
		TTL:       rc.TTL.Std(),
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		return fmt.Errorf("create mirror: %w", err)
	}
	if err := mirror.Start(ctx); err != nil {
		return fmt.Errorf("start mirror: %w", err)
	}
	a.mirror = mirror
	return nil
}

func (a *app) startServer() {
	server := metric.NewServer(a.cfg.Metrics.Port, a.cfg.Metrics.Path, a.metrics)
	server.Handle("/health", a.monitor.Handler(a.cfg.Runtime.ID))
	server.Handle("/ready", a.monitor.ReadyHandler())

	mux := http.NewServeMux()
	a.rt.RegisterHTTPHandlers("/components/", mux)
	server.Handle("/components/", mux)

	a.server = server
	go func() {
		if err := server.Start(); err != nil {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()
	a.logger.Info("HTTP server listening", "metrics", server.Address())
}

// shutdown stops everything start created, in reverse order
func (a *app) shutdown(ctx context.Context) error {
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	var errs error
	if a.server != nil {
		errs = multierr.Append(errs, a.server.Stop())
	}
	if a.mirror != nil {
		errs = multierr.Append(errs, a.mirror.Stop(timeout))
	}
	if a.announcer != nil {
		errs = multierr.Append(errs, a.announcer.Stop(timeout))
	}
	if a.manager != nil {
		errs = multierr.Append(errs, a.manager.Stop(timeout))
	}
	if a.rt != nil {
		errs = multierr.Append(errs, a.rt.Stop(ctx))
	}
	if a.nats != nil {
		errs = multierr.Append(errs, a.nats.Close(ctx))
	}
	return errs
}
