package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hearthctl/hearthctl/internal/audit"
	"github.com/hearthctl/hearthctl/internal/calculator"
	"github.com/hearthctl/hearthctl/internal/certs"
	"github.com/hearthctl/hearthctl/internal/config"
	"github.com/hearthctl/hearthctl/internal/device"
	"github.com/hearthctl/hearthctl/internal/eventbus"
	"github.com/hearthctl/hearthctl/internal/events"
	"github.com/hearthctl/hearthctl/internal/feedback"
	"github.com/hearthctl/hearthctl/internal/healthgate"
	"github.com/hearthctl/hearthctl/internal/idempotency"
	"github.com/hearthctl/hearthctl/internal/metrics"
	"github.com/hearthctl/hearthctl/internal/override"
	"github.com/hearthctl/hearthctl/internal/overridepipeline"
	"github.com/hearthctl/hearthctl/internal/reconcile"
	"github.com/hearthctl/hearthctl/internal/safety"
	"github.com/hearthctl/hearthctl/internal/server"
	"github.com/hearthctl/hearthctl/internal/sse"
	"github.com/hearthctl/hearthctl/internal/sweeper"
	"github.com/hearthctl/hearthctl/internal/system"
	"github.com/hearthctl/hearthctl/internal/twin"
	"github.com/hearthctl/hearthctl/internal/wireadapter"
)

const defaultAddr = ":8443"

// appConfig holds the ambient settings that live outside the hot-reloaded
// YAML config file: where to listen, where to find TLS material and the
// config file itself, and how to format logs.
type appConfig struct {
	ListenAddr string
	ConfigPath string
	DataDir    string
	LogFormat  string
	TLSCACert  string
	TLSCert    string
	TLSKey     string
	Insecure   bool
}

func main() {
	cfg, err := loadAppConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadAppConfig(args []string) (appConfig, error) {
	fs := flag.NewFlagSet("hearthctl", flag.ContinueOnError)

	cfg := appConfig{}
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", defaultAddr), "listen address")
	fs.StringVar(&cfg.ConfigPath, "config", getEnv("CONFIG_PATH", "/etc/hearthctl/config.yaml"), "path to the systems/rules YAML config file")
	fs.StringVar(&cfg.DataDir, "data-dir", getEnv("DATA_DIR", "/data"), "data directory for certificates and the audit log")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "json"), "log format (json or text)")
	fs.StringVar(&cfg.TLSCACert, "tls-ca-cert", getEnv("TLS_CA_CERT", ""), "custom CA certificate path")
	fs.StringVar(&cfg.TLSCert, "tls-cert", getEnv("TLS_CERT", ""), "custom server certificate path")
	fs.StringVar(&cfg.TLSKey, "tls-key", getEnv("TLS_KEY", ""), "custom server key path")
	fs.BoolVar(&cfg.Insecure, "insecure", getEnvBool("INSECURE", false), "serve plain HTTP instead of HTTPS+mTLS (development only)")

	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return appConfig{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func setupLogger(format string) *slog.Logger {
	return setupLoggerWithWriter(format, os.Stdout)
}

func setupLoggerWithWriter(format string, writer io.Writer) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, nil)
	} else {
		handler = slog.NewJSONHandler(writer, nil)
	}
	return slog.New(handler)
}

// reloadableConfig holds the collaborators a config reload touches: it
// registers newly declared systems and rebuilds the safety rule set,
// without tearing down anything else already running.
type reloadableConfig struct {
	registry *system.Registry
	engine   *safety.Engine
	logger   *slog.Logger
}

func (s *reloadableConfig) applyConfig(cfg *config.Config, errs []error) {
	for _, e := range errs {
		s.logger.Warn("config: validation error, entry dropped", "error", e)
	}
	if cfg == nil {
		return
	}
	if regErrs := config.RegisterSystems(s.registry, cfg); len(regErrs) > 0 {
		for _, e := range regErrs {
			s.logger.Error("config: failed to register system", "error", e)
		}
	}
	rules, ruleErrs := config.BuildSafetyRules(cfg)
	for _, e := range ruleErrs {
		s.logger.Error("config: failed to build safety rule", "error", e)
	}
	s.engine.Reload(rules)
	s.logger.Info("config: safety rule set reloaded", "rules", len(rules))
}

// run wires every control-plane component together and runs until ctx
// is cancelled.
func run(ctx context.Context, cfg appConfig) error {
	logger := setupLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	reg := prometheus.DefaultRegisterer
	recorder := metrics.New(reg)

	twins := twin.NewStore()
	systems := system.NewRegistry()
	engine := safety.NewEngine(nil, recorder)
	overrideStore := override.NewStore(override.NewMemoryDurable(), override.NewMemoryCache(), override.WithLogger(logger))
	bus := eventbus.New(eventbus.WithLogger(logger))
	defer bus.Stop()

	auditPath := filepath.Join(cfg.DataDir, "audit.jsonl")
	auditLog, err := audit.Open(auditPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditLog.Close()

	health := healthgate.New()

	calc := calculator.New(overrideStore, twins, engine)
	coordinator := reconcile.New(twins, systems, calc, bus, auditLog)
	reconciler := reconcile.NewReconciler(twins, health, bus, recorder, logger)
	pipeline := overridepipeline.New(overrideStore, systems, twins, engine, bus, auditLog)
	sweep := sweeper.New(overrideStore, bus, auditLog, systemMemberResolver{systems}, coordinatorReconciler{coordinator}, logger)
	idempotencyFilter := idempotency.New(idempotency.NewInMemoryMarker(), 0, logger)
	feedbackProcessor := feedback.New(twins, bus, idempotencyFilter, logger)

	eventbus.Subscribe(bus, feedbackProcessor.HandleActuatorFeedbackReceived)
	coordinator.RegisterListeners(
		func(fn func(context.Context, events.UserIntentChanged)) { eventbus.Subscribe(bus, fn) },
		func(fn func(context.Context, events.ReportedStateChanged)) { eventbus.Subscribe(bus, fn) },
		func(fn func(context.Context, events.OverrideApplied)) { eventbus.Subscribe(bus, fn) },
		func(fn func(context.Context, events.OverrideCancelled)) { eventbus.Subscribe(bus, fn) },
		func(fn func(context.Context, events.OverrideExpired)) { eventbus.Subscribe(bus, fn) },
		logger,
	)

	// The wire adapter boundary (inbound MQTT/serial/vendor-cloud
	// transports) is a pluggable collaborator: production deployments
	// register concrete Adapters for their hardware. None ship here —
	// hardware integration is out of scope — so Run simply returns once
	// started, with the rate-limited dispatch path exercised by its tests.
	dispatcher := wireadapter.New(bus, wireadapter.WithLogger(logger))
	go dispatcher.Run(ctx)

	sys := &reloadableConfig{registry: systems, engine: engine, logger: logger}
	initial, loadErrs := config.Load(cfg.ConfigPath)
	sys.applyConfig(initial, loadErrs)

	watcher := config.NewWatcher(cfg.ConfigPath, sys.applyConfig, logger)
	watcherCtx, watcherCancel := context.WithCancel(ctx)
	defer watcherCancel()
	go func() {
		if err := watcher.Run(watcherCtx); err != nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	go reconciler.Run(ctx, defaultReconcilerInterval(initial))
	go sweep.Run(ctx, defaultSweeperInterval(initial))
	go health.Run(ctx, 15*time.Second)

	broker := sse.NewBroker(bus, logger, "dev")

	srv := server.New(twins, systems, coordinator, pipeline, health, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /v1/dashboard/events", broker)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	if !cfg.Insecure {
		certsCfg := certs.CertsConfig{
			DataDir:      cfg.DataDir,
			CustomCACert: cfg.TLSCACert,
			CustomCert:   cfg.TLSCert,
			CustomKey:    cfg.TLSKey,
		}
		assets, err := certs.LoadOrGenerateCerts(certsCfg)
		if err != nil {
			return fmt.Errorf("failed to load certificates: %w", err)
		}
		logger.Info("certificates ready", "ca", assets.CACertPath, "server", assets.ServerCertPath)

		tlsConfig, err := certs.NewTLSConfig(assets.CACertPath, assets.ServerCertPath, assets.ServerKeyPath)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		httpServer.TLSConfig = tlsConfig
	}

	serverErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.Insecure {
			logger.Info("listening (HTTP)", "addr", cfg.ListenAddr)
			err = httpServer.ListenAndServe()
		} else {
			logger.Info("listening (HTTPS+mTLS)", "addr", cfg.ListenAddr)
			err = httpServer.ListenAndServeTLS("", "")
		}
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully...")
		watcherCancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("connections drained")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func defaultReconcilerInterval(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Reconciler.Interval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(cfg.Reconciler.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func defaultSweeperInterval(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.Sweeper.Interval == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(cfg.Sweeper.Interval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// systemMemberResolver adapts system.Registry to sweeper.SystemFinder.
type systemMemberResolver struct {
	registry *system.Registry
}

func (r systemMemberResolver) DeviceIDsForSystem(systemID string) ([]device.ID, bool) {
	fs, ok := r.registry.FindByID(systemID)
	if !ok {
		return nil, false
	}
	return fs.DeviceIDList(), true
}

// coordinatorReconciler adapts reconcile.Coordinator's richer Result-
// returning Reconcile to the plain error-returning shape sweeper.Reconciler
// expects — the sweeper only needs to know whether reconciliation
// succeeded, not the calculator's decision.
type coordinatorReconciler struct {
	coordinator *reconcile.Coordinator
}

func (r coordinatorReconciler) Reconcile(deviceID device.ID, metadata map[string]any) error {
	_, err := r.coordinator.Reconcile(deviceID, metadata)
	return err
}
