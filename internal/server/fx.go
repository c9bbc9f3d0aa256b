// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sweep-progress/internal/api"
	"github.com/JakeFAU/sweep-progress/internal/clock/system"
	"github.com/JakeFAU/sweep-progress/internal/config"
	"github.com/JakeFAU/sweep-progress/internal/id/uuid"
	"github.com/JakeFAU/sweep-progress/internal/logging"
	"github.com/JakeFAU/sweep-progress/internal/policy/ratelimit"
	"github.com/JakeFAU/sweep-progress/internal/policy/simple"
	"github.com/JakeFAU/sweep-progress/internal/progress"
	progresssinks "github.com/JakeFAU/sweep-progress/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/sweep-progress/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sweep-progress/internal/publisher/pubsub"
	"github.com/JakeFAU/sweep-progress/internal/records"
	memoryStorage "github.com/JakeFAU/sweep-progress/internal/storage/memory"
	pgstore "github.com/JakeFAU/sweep-progress/internal/storage/postgres"
	"github.com/JakeFAU/sweep-progress/internal/wsconn"
)

const defaultShutdownTimeout = 15 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	progressSvc *progress.Service
	progressHub *progress.Hub
	pgStore     *pgstore.RecordStore
	gcpPub      *gcppublisher.Publisher
}

// Build creates the application's dependencies. Run metrics go to reg, or to
// the default registerer when reg is nil.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, reg, logger)
}

func build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)

	store, err := setupRecordStore(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if err := setupProgress(ctx, app, reg, publisher); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	recordSvc := records.NewService(store, uuid.New(), system.New(), logger.Named("records"))
	upgrader := wsconn.NewUpgrader(wsconn.Config{
		ReadBufferSize:  cfg.WS.ReadBuffer,
		WriteBufferSize: cfg.WS.WriteBuffer,
		PingInterval:    cfg.WS.PingInterval,
		PongWait:        cfg.WS.PongWait,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	}, logger.Named("ws"))

	app.apiServer = api.NewServer(
		recordSvc,
		app.progressSvc,
		upgrader,
		joinPolicy(cfg.RateLimit, logger),
		cfg,
		logger.Named("api"),
	)
	return app, nil
}

func setupRecordStore(ctx context.Context, app *App) (records.Store, error) {
	recentCap := app.cfg.Records.RecentCap
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory record store")
		return memoryStorage.NewRecordStore(recentCap), nil
	}
	store, err := pgstore.NewRecordStore(ctx, pgstore.RecordStoreConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("record store init failed: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("record store schema failed: %w", err)
	}
	app.pgStore = store
	app.logger.Info("postgres record store initialized", zap.String("table", app.cfg.Database.Table))
	return store, nil
}

func setupPublisher(ctx context.Context, app *App) (progresssinks.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.gcpPub = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupProgress(
	ctx context.Context,
	app *App,
	reg prometheus.Registerer,
	publisher progresssinks.Publisher,
) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		progresssinks.NewPublisherSink(publisher, app.cfg.PubSub.TopicName, app.logger.Named("progress_publish")),
		promSink,
	}
	app.progressHub = progress.NewHub(progress.HubConfig{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      app.logger.Named("progress_hub"),
	}, sinkList...)

	app.progressSvc = progress.NewService(progress.Config{
		Driver: progress.DriverConfig{
			Steps:        app.cfg.Progress.Steps,
			StepInterval: app.cfg.Progress.StepInterval,
		},
		SendBuffer:  app.cfg.Progress.SendBuffer,
		SendTimeout: app.cfg.Progress.SendTimeout,
	}, app.progressHub, app.logger.Named("progress"))
	app.logger.Info("progress service initialized",
		zap.Int("steps", app.cfg.Progress.Steps),
		zap.Duration("step_interval", app.cfg.Progress.StepInterval),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func joinPolicy(cfg config.RateLimitConfig, logger *zap.Logger) api.JoinPolicy {
	if !cfg.Enabled {
		logger.Info("websocket join throttling disabled")
		return simple.New()
	}
	return ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RPS, DefaultBurst: cfg.Burst})
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := listen(a.cfg.Server.Port, a.cfg.Server.PortFallback, a.logger)
	if err != nil {
		return err
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			a.logger.Error("http server error", zap.Error(runErr))
		}
	}
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	// Sessions are hijacked connections that Shutdown does not track, so the
	// progress service closes them itself.
	if err := a.progressSvc.Close(shutdownCtx); err != nil {
		a.logger.Warn("progress service close failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close releases sinks, publisher and store. It is safe to call after a
// failed Run.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressSvc != nil && !a.progressSvc.Closed() {
		if err := a.progressSvc.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress service: %w", err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.gcpPub != nil {
		if err := a.gcpPub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.gcpPub = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

// listen binds port, falling back to an OS-assigned port when it is taken
// and fallback is enabled.
func listen(port int, fallback bool, logger *zap.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err == nil {
		return ln, nil
	}
	if !fallback || !errors.Is(err, syscall.EADDRINUSE) {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	logger.Warn("port in use, falling back to a free port", zap.Int("port", port))
	ln, err = net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen on fallback port: %w", err)
	}
	return ln, nil
}
