package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meshcore/sessiond/internal/config"
	"github.com/meshcore/sessiond/internal/cryptosession"
	sessionmetrics "github.com/meshcore/sessiond/internal/metrics"
	"github.com/meshcore/sessiond/internal/session"
	"github.com/meshcore/sessiond/internal/transport"
	"github.com/meshcore/sessiond/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server gets to drain
// in-flight requests during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the session daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon(configPath)
		},
	}
}

func runDaemon(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("sessiond starting",
		slog.String("version", version.Version),
		slog.String("switch_addr", cfg.Switch.Addr),
		slog.String("inside_addr", cfg.Inside.Addr),
		slog.String("events_addr", cfg.Events.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	identity, err := cryptosession.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	var ourPublicKey [32]byte
	copy(ourPublicKey[:], identity.Public)

	reg := prometheus.NewRegistry()
	collector := sessionmetrics.NewCollector(reg)

	eventsHolder := newLinkHolder("events", logger)
	insideHolder := newLinkHolder("inside", logger)
	switchHolder := newLinkHolder("switch", logger)

	newCrypto := func(peerPublicKey [32]byte, peerIP6 [16]byte, initiator bool) (session.CryptoSession, error) {
		return cryptosession.NewSession(identity, peerPublicKey, peerIP6, initiator)
	}

	mgr := session.NewManager(
		logger,
		ourPublicKey,
		newCrypto,
		eventSink{holder: eventsHolder},
		insideSink{holder: insideHolder},
		switchSink{holder: switchHolder},
		session.WithMetrics(collector),
		session.WithMaxBufferedMessages(cfg.Session.MaxBufferedMessages),
		session.WithMetricHalflifeMillis(cfg.Session.MetricHalflifeMilliseconds),
	)

	holders := socketHolders{switchH: switchHolder, insideH: insideHolder, eventsH: eventsHolder}
	return runDaemonLoop(cfg, mgr, reg, logger, holders)
}

// socketHolders carries the same linkHolder instances wired into the
// manager's sinks through to the accept loops, so both sides of each socket
// (outbound delivery, inbound acceptance) share one connection slot.
type socketHolders struct {
	switchH *linkHolder
	insideH *linkHolder
	eventsH *linkHolder
}

// runDaemonLoop wires the manager's dispatch loop, the three local unix
// socket listeners, and the metrics HTTP server together under a single
// signal-aware errgroup, mirroring the teacher's runServers shape.
func runDaemonLoop(
	cfg *config.Config,
	mgr *session.Manager,
	reg *prometheus.Registry,
	logger *slog.Logger,
	holders socketHolders,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mgr.Run(gCtx)
	})

	if err := startSocketListeners(gCtx, g, cfg, mgr, holders, logger); err != nil {
		return fmt.Errorf("start socket listeners: %w", err)
	}

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics on %s: %w", cfg.Metrics.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	logger.Info("sessiond stopped")
	return nil
}

// startSocketListeners binds and accepts on the switch, inside, and events
// unix sockets, each feeding frames straight into the manager's matching
// Push/Handle method.
func startSocketListeners(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	mgr *session.Manager,
	holders socketHolders,
	logger *slog.Logger,
) error {
	sockets := []struct {
		addr   string
		holder *linkHolder
		handle transport.FrameHandler
	}{
		{cfg.Switch.Addr, holders.switchH, mgr.PushFromSwitch},
		{cfg.Inside.Addr, holders.insideH, mgr.PushFromInside},
		{cfg.Events.Addr, holders.eventsH, mgr.HandleEventFrame},
	}

	for _, sock := range sockets {
		ln, err := listenUnix(sock.addr)
		if err != nil {
			return err
		}
		holder := sock.holder
		handle := sock.handle
		logger.Info("listening", slog.String("socket", holder.name), slog.String("addr", sock.addr))
		g.Go(func() error {
			return acceptLoop(ctx, ln, holder, logger, handle)
		})
	}
	return nil
}

// -------------------------------------------------------------------------
// Systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval. It is a no-op if the watchdog is not configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, metricsSrv *http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Config and Logging Helpers
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
