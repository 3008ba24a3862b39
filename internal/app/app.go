package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/fetcher"
	"ProposalTracker/internal/httpapi"
	"ProposalTracker/internal/impact"
	"ProposalTracker/internal/infrastructure/desktop"
	"ProposalTracker/internal/infrastructure/email"
	"ProposalTracker/internal/infrastructure/llm"
	"ProposalTracker/internal/infrastructure/parser"
	"ProposalTracker/internal/infrastructure/scheduler"
	"ProposalTracker/internal/infrastructure/slack"
	"ProposalTracker/internal/infrastructure/storage"
	"ProposalTracker/internal/infrastructure/webclient"
	"ProposalTracker/internal/logging"
	"ProposalTracker/internal/metrics"
	"ProposalTracker/internal/notify"
	"ProposalTracker/internal/ports"
	"ProposalTracker/internal/scanner"
	"ProposalTracker/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	fetcher   *fetcher.Coordinator
	pipeline  *usecase.Pipeline
	schedules *usecase.ScheduleService
	archive   *storage.SQLArchive
	api       *httpapi.Handler
}

// New builds the full component graph. The SQL archive is optional: when it
// cannot be opened the application runs without it.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	dataDir := cfg.Storage.DataDir
	m := metrics.New()

	client := webclient.NewDefault(cfg.Fetcher.Timeout.Std())
	registry := scanner.NewRegistry()
	registry.Register(parser.NewEIPScanner(client, cfg.Fetcher.UserAgent))
	registry.Register(parser.NewGitHubScanner(client, cfg.Fetcher.UserAgent, cfg.Fetcher.GitHubToken))

	source := parser.NewStrategySource(registry, cfg.Protocols, cfg.Fetcher.DetailLimit, baseLogger.With("component", "source"))
	coordinator := fetcher.NewCoordinator(fetcher.Deps{
		Source:      source,
		Listings:    storage.NewListingStore(dataDir),
		Snapshots:   storage.NewSnapshotStore(dataDir),
		Concurrency: int64(cfg.Fetcher.Concurrency),
		Logger:      baseLogger,
	})

	var chatClient ports.ChatClient
	if c := llm.NewChatGPTClient(cfg.Classifier); c != nil {
		chatClient = c
	}
	classifier := impact.New(cfg.Classifier, chatClient, baseLogger)

	dispatcher := notify.NewDispatcher(
		config.NewNotificationSource(cfg),
		[]ports.Notifier{
			desktop.NewNotifier(baseLogger),
			email.NewNotifier(baseLogger),
			slack.NewNotifier(baseLogger),
		},
		m,
		baseLogger,
	)

	history := storage.NewHistoryStore(dataDir)
	a := &Application{cfg: cfg, logger: baseLogger, metrics: m, fetcher: coordinator}

	var archive ports.ImpactArchive
	if arch, err := openArchive(ctx, cfg); err != nil {
		baseLogger.Warn("impact archive disabled", "driver", cfg.Archive.Driver, "error", err)
	} else {
		a.archive = arch
		archive = arch
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:    coordinator,
		Classifier: classifier,
		Dispatcher: dispatcher,
		History:    history,
		Archive:    archive,
		Metrics:    m,
		Protocols:  configuredProtocols(cfg),
		Logger:     baseLogger,
	})

	a.schedules = usecase.NewScheduleService(usecase.ScheduleDeps{
		Store:       storage.NewScheduleStore(dataDir),
		History:     history,
		Driver:      scheduler.NewHeapScheduler(scheduler.SystemClock{}, baseLogger),
		Pipeline:    a.pipeline,
		Location:    cfg.Scheduler.Location(),
		StopTimeout: cfg.Scheduler.StopTimeout.Std(),
		Logger:      baseLogger,
	})

	a.api = httpapi.NewHandler(a.schedules, m.Handler(), baseLogger)
	return a
}

func openArchive(ctx context.Context, cfg config.Config) (*storage.SQLArchive, error) {
	dsn := cfg.Archive.DSN
	if dsn == "" {
		if cfg.Archive.Driver != "sqlite" {
			return nil, errors.New("no dsn configured")
		}
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(cfg.Storage.DataDir, "impact_archive.db")
	}
	return storage.OpenArchive(ctx, cfg.Archive.Driver, dsn)
}

// configuredProtocols keeps the supported protocols that have a binding, in
// canonical order.
func configuredProtocols(cfg config.Config) []domain.Protocol {
	bound := make(map[domain.Protocol]bool, len(cfg.Protocols))
	for _, b := range cfg.Protocols {
		if p, err := domain.ParseProtocol(b.ID); err == nil {
			bound[p] = true
		}
	}
	var out []domain.Protocol
	for _, p := range domain.Protocols() {
		if bound[p] {
			out = append(out, p)
		}
	}
	return out
}

// Schedules exposes the schedule service to the CLI.
func (a *Application) Schedules() *usecase.ScheduleService { return a.schedules }

// Archive returns the impact archive, nil when disabled.
func (a *Application) Archive() *storage.SQLArchive { return a.archive }

// Fetch refreshes the listings of the given protocols without diffing.
func (a *Application) Fetch(ctx context.Context, protocols []domain.Protocol) map[domain.Protocol]fetcher.Outcome {
	if len(protocols) == 0 {
		protocols = a.pipeline.Protocols()
	}
	return a.fetcher.FetchAll(ctx, protocols)
}

// Check runs the full pipeline once as a manual trigger.
func (a *Application) Check(ctx context.Context, protocols []domain.Protocol) (domain.ExecutionRecord, error) {
	return a.schedules.RunNow(ctx, protocols)
}

// Serve starts the scheduler and the control API and blocks until ctx is
// cancelled, then shuts both down.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.schedules.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := httpapi.NewServer(a.cfg.HTTP.Addr, a.api.Router())
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("control api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.schedules.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close releases the archive connection.
func (a *Application) Close() error {
	if a.archive == nil {
		return nil
	}
	return a.archive.Close()
}
