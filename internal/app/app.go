package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"

	"connsync/internal/cache"
	"connsync/internal/config"
	"connsync/internal/connectors"
	"connsync/internal/database"
	"connsync/internal/docstore"
	"connsync/internal/encryption"
	"connsync/internal/model"
	"connsync/internal/providers/gdrive"
	"connsync/internal/providers/intercom"
	"connsync/internal/providers/warehouse"
	"connsync/internal/providers/zendesk"
	"connsync/internal/workflows"
)

// ErrPaused is returned when a sync is requested for a paused connector.
var ErrPaused = errors.New("connector is paused")

// Launcher starts and signals the sync workflow of a connector.
type Launcher interface {
	StartSync(ctx context.Context, c *model.Connector) (string, error)
	StartIncremental(ctx context.Context, c *model.Connector) (string, error)
	Signal(ctx context.Context, c *model.Connector, updates []connectors.ScopeUpdate) error
	State(ctx context.Context, c *model.Connector) (workflows.SyncState, error)
}

var _ Launcher = (*workflows.Launcher)(nil)

// App is the application layer between the CLI/HTTP surfaces and the sync
// engine. It builds every dependency from config and owns their lifecycle.
type App struct {
	cfg      *config.Config
	db       *database.SQLDatabase
	store    connectors.DocumentStore
	cache    connectors.Cache
	cacheTTL time.Duration
	clock    connectors.Clock
	slog     *slog.Logger
	logger   connectors.Logger
	op       *Operation
	logFile  *os.File

	launcher Launcher
	temporal client.Client
}

// NewApp creates a fully wired App from cfg. command names the CLI command
// being run. The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, command string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := loadEnv(cfg.EnvFile); err != nil {
		return nil, err
	}

	clock := connectors.RealClock{}
	op := NewOperation(command, connectors.UUIDGenerator{}, clock)
	logger, logFile, err := newLogger(cfg.LogDir, op.RunID, slog.LevelInfo)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date, run `connsync db migrate`: %w", err)
	}

	store, err := docstore.NewDocumentStoreFromConfig(ctx, cfg.DocStore, clock)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating document store: %w", err)
	}

	memo, ttl, err := cache.NewCacheFromConfig(ctx, cfg.Cache, clock)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	a := &App{
		cfg:      cfg,
		db:       db,
		store:    store,
		cache:    memo,
		cacheTTL: ttl,
		clock:    clock,
		slog:     logger,
		logger:   &slogAdapter{l: logger},
		op:       op,
		logFile:  logFile,
	}
	a.logger.Debug("command started", "command", command)
	return a, nil
}

// loadEnv reads provider credentials from path when it exists. Variables
// already set in the environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Migrate applies pending schema migrations to the configured database.
func Migrate(cfg *config.Config) error {
	db, err := database.NewDatabaseFromConfig(cfg.Database, connectors.RealClock{})
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// InitKeys generates the age key pair used to encrypt document bodies.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc := encryption.NewAgeEncryptor(cfg.DocStore.Encryption)
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}

// Logger returns the process logger.
func (a *App) Logger() *slog.Logger { return a.slog }

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Fail marks the running command as failed in the closing log line.
func (a *App) Fail() { a.op.Fail() }

// temporalLauncher dials the orchestration service on first use.
func (a *App) temporalLauncher() (Launcher, error) {
	if a.launcher != nil {
		return a.launcher, nil
	}
	c, err := a.temporalClient()
	if err != nil {
		return nil, err
	}
	t := a.cfg.Temporal
	a.launcher = workflows.NewLauncher(c, a.db, t.TaskQueue, t.CronSchedule, a.logger)
	return a.launcher, nil
}

func (a *App) temporalClient() (client.Client, error) {
	if a.temporal != nil {
		return a.temporal, nil
	}
	c, err := workflows.Dial(a.cfg.Temporal, a.slog.WithGroup("temporal"))
	if err != nil {
		return nil, err
	}
	a.temporal = c
	return c, nil
}

// Activities wires the sync activities executed by the worker.
func (a *App) Activities() *workflows.Activities {
	s := a.cfg.Sync
	return &workflows.Activities{
		DB:        a.db,
		Status:    connectors.NewStatusTracker(a.db, a.clock, a.logger),
		Warehouse: warehouse.NewSyncer(a.db, a.store, a.logger, a.clock, s.Concurrency),
		Drive:     gdrive.NewSyncer(a.db, a.store, a.cache, a.cacheTTL, a.logger, a.clock, s.Concurrency),
		Zendesk:   zendesk.NewSyncer(a.db, a.store, a.logger, a.clock, s.Concurrency),
		Intercom:  intercom.NewSyncer(a.db, a.store, a.logger, a.clock, s.Concurrency, s.IntercomRetentionDays),
		Dialers:   workflows.EnvDialers(),
		Logger:    a.logger,
	}
}

// RunWorker polls the task queue until ctx is canceled.
func (a *App) RunWorker(ctx context.Context) error {
	if err := a.store.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("document store not ready: %w", err)
	}
	c, err := a.temporalClient()
	if err != nil {
		return err
	}
	t := a.cfg.Temporal
	w := workflows.NewWorker(c, t.TaskQueue, t.MaxConcurrentActivities, a.Activities())
	if err := w.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	a.logger.Info("worker started", "task_queue", t.TaskQueue)
	<-ctx.Done()
	w.Stop()
	a.logger.Info("worker stopped")
	return nil
}

// BackupDatabase writes a consistent copy of the SQLite tracking database to dest.
func (a *App) BackupDatabase(dest string) error {
	return a.db.BackupTo(dest)
}

// Close releases every resource. The closing log line carries the command
// status and duration.
func (a *App) Close() error {
	var firstErr error
	if a.temporal != nil {
		a.temporal.Close()
	}
	if closer, ok := a.cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			firstErr = fmt.Errorf("closing cache: %w", err)
		}
	}
	if closer, ok := a.store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(context.Background()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing document store: %w", err)
		}
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Debug("command finished", "command", a.op.Command, "status", a.op.Status, "elapsed", a.op.Elapsed(a.clock))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
