package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"connsync/internal/api"
	"connsync/internal/app"
	"connsync/internal/config"
	"connsync/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// command identifies the CLI command being run (e.g. "SetPermissions").
func newApp(ctx context.Context, command string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(ctx, cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// run wraps a command body so the closing log line carries its outcome.
func run(command string, fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, command)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := fn(ctx, a, args); err != nil {
			a.Fail()
			return err
		}
		return nil
	}
}

func parseConnectorID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid connector id %q", arg)
	}
	return id, nil
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

var rootCmd = &cobra.Command{
	Use:          "connsync",
	Short:        "Sync permissioned remote content into workspace data sources",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Printf("Put connection credentials in %s\n", defaults["env_file"])
		fmt.Println("Run `connsync db migrate` to create the tracking database.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("DocStore:  %s\n", cfg.DocStore.Type)
		if cfg.DocStore.Encryption.Type != "" {
			fmt.Printf("Encrypted: %s\n", cfg.DocStore.Encryption.Type)
		}
		fmt.Printf("Cache:     %s\n", cfg.Cache.Type)
		fmt.Printf("Temporal:  %s/%s (queue %s)\n", cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue)
		fmt.Printf("API:       %s\n", cfg.API.ListenAddr)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage document encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used to encrypt document bodies",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		passphrase, err := promptNewPassphrase()
		if err != nil {
			return err
		}
		if err := app.InitKeys(cfg, passphrase); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.DocStore.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.DocStore.Encryption.PrivateKeyPath)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the tracking database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Copy the SQLite tracking database to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: run("BackupDatabase", func(ctx context.Context, a *app.App, args []string) error {
		if err := a.BackupDatabase(args[0]); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	}),
}

// connector command
var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Manage connectors",
}

var connectorCreateCmd = &cobra.Command{
	Use:   "create PROVIDER",
	Short: "Register a connector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")
		dataSource, _ := cmd.Flags().GetString("data-source")
		connection, _ := cmd.Flags().GetString("connection")
		settings, _ := cmd.Flags().GetStringToString("set")

		return run("CreateConnector", func(ctx context.Context, a *app.App, args []string) error {
			c, err := a.CreateConnector(ctx, app.ConnectorSpec{
				Provider:     model.Provider(args[0]),
				WorkspaceID:  workspace,
				DataSourceID: dataSource,
				ConnectionID: connection,
				Config:       settings,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created connector %d (%s)\n", c.ID, c.Provider)
			return nil
		})(cmd, args)
	},
}

var connectorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connectors",
	RunE: run("ListConnectors", func(ctx context.Context, a *app.App, args []string) error {
		cs, err := a.ListConnectors(ctx)
		if err != nil {
			return err
		}
		if len(cs) == 0 {
			fmt.Println("No connectors.")
			return nil
		}
		for _, c := range cs {
			state := string(c.LastSyncStatus)
			if state == "" {
				state = "never synced"
			}
			if c.PausedAt.Valid {
				state += " (paused)"
			}
			fmt.Printf("#%d  %-14s  %s/%s  %s\n", c.ID, c.Provider, c.WorkspaceID, c.DataSourceID, state)
		}
		return nil
	}),
}

func pauseCommand(use, short string, paused bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: run("SetPaused", func(ctx context.Context, a *app.App, args []string) error {
			id, err := parseConnectorID(args[0])
			if err != nil {
				return err
			}
			if err := a.SetPaused(ctx, id, paused); err != nil {
				return err
			}
			fmt.Printf("Connector %d %sd\n", id, use)
			return nil
		}),
	}
}

// permissions command
var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Manage connector permissions",
}

var permissionsSetCmd = &cobra.Command{
	Use:   "set ID INTERNAL_ID=PERMISSION...",
	Short: "Grant or revoke remote entities",
	Args:  cobra.MinimumNArgs(2),
	RunE: run("SetPermissions", func(ctx context.Context, a *app.App, args []string) error {
		id, err := parseConnectorID(args[0])
		if err != nil {
			return err
		}
		updates := make([]app.PermissionUpdate, 0, len(args)-1)
		for _, arg := range args[1:] {
			i := strings.LastIndex(arg, "=")
			if i <= 0 {
				return fmt.Errorf("expected INTERNAL_ID=PERMISSION, got %q", arg)
			}
			updates = append(updates, app.PermissionUpdate{InternalID: arg[:i], Permission: model.Permission(arg[i+1:])})
		}
		if err := a.SetPermissions(ctx, id, updates); err != nil {
			return err
		}
		fmt.Printf("Updated %d permission(s)\n", len(updates))
		return nil
	}),
}

// sync command
var syncIncremental bool

var syncCmd = &cobra.Command{
	Use:   "sync ID",
	Short: "Start a sync of a connector",
	Args:  cobra.ExactArgs(1),
	RunE: run("Sync", func(ctx context.Context, a *app.App, args []string) error {
		id, err := parseConnectorID(args[0])
		if err != nil {
			return err
		}
		start := a.Sync
		if syncIncremental {
			start = a.SyncIncremental
		}
		runID, err := start(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Sync running: %s\n", runID)
		return nil
	}),
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status ID",
	Short: "View the sync status of a connector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		live, _ := cmd.Flags().GetBool("live")
		return run("Status", func(ctx context.Context, a *app.App, args []string) error {
			id, err := parseConnectorID(args[0])
			if err != nil {
				return err
			}
			st, err := a.Status(ctx, id, live)
			if err != nil {
				return err
			}
			c := st.Connector
			fmt.Printf("Connector:  #%d %s\n", c.ID, c.Provider)
			if c.PausedAt.Valid {
				fmt.Printf("Paused:     %s\n", formatTime(c.PausedAt.Time))
			}
			fmt.Printf("Last sync:  %s\n", c.LastSyncStatus)
			if c.LastSyncStartTime.Valid {
				fmt.Printf("Started:    %s\n", formatTime(c.LastSyncStartTime.Time))
			}
			if c.LastSyncFinishTime.Valid {
				fmt.Printf("Finished:   %s\n", formatTime(c.LastSyncFinishTime.Time))
			}
			if c.LastSyncSuccessfulTime.Valid {
				fmt.Printf("Succeeded:  %s\n", formatTime(c.LastSyncSuccessfulTime.Time))
			}
			if c.FirstSyncProgress != "" {
				fmt.Printf("Progress:   %s\n", c.FirstSyncProgress)
			}
			if c.ErrorType != "" {
				fmt.Printf("Error:      %s\n", c.ErrorType)
			}
			if st.State != "" {
				fmt.Printf("Workflow:   %s\n", st.State)
			}
			return nil
		})(cmd, args)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history ID",
	Short: "View sync operation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return run("History", func(ctx context.Context, a *app.App, args []string) error {
			id, err := parseConnectorID(args[0])
			if err != nil {
				return err
			}
			ops, err := a.History(ctx, id, limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No sync operations recorded.")
				return nil
			}
			for _, op := range ops {
				duration := ""
				if op.FinishedAt.Valid {
					duration = op.FinishedAt.Time.Sub(op.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-28s  %s  %-10s  %-10s %s\n",
					op.ID,
					op.WorkflowID,
					formatTime(op.StartedAt),
					op.Status,
					duration,
					op.ErrorType,
				)
			}
			return nil
		})(cmd, args)
	},
}

// worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the sync worker until interrupted",
	RunE: run("Worker", func(ctx context.Context, a *app.App, args []string) error {
		return a.RunWorker(ctx)
	}),
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the permission and status API",
	RunE: run("Serve", func(ctx context.Context, a *app.App, args []string) error {
		logger := a.Logger().WithGroup("api")
		handler, err := api.NewServer(a, logger)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              a.Config().API.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		logger.Info("listening", "addr", srv.Addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}),
}

// docs command
var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Inspect the document store",
}

var docsShowCmd = &cobra.Command{
	Use:   "show ID INTERNAL_ID",
	Short: "Print the stored body of a document",
	Args:  cobra.ExactArgs(2),
	RunE: run("ShowDocument", func(ctx context.Context, a *app.App, args []string) error {
		id, err := parseConnectorID(args[0])
		if err != nil {
			return err
		}
		var passphrase string
		if a.DocumentsEncrypted() {
			if passphrase, err = promptPassphrase("Passphrase: "); err != nil {
				return err
			}
		}
		content, err := a.ShowDocument(ctx, id, args[1], passphrase)
		if err != nil {
			return err
		}
		fmt.Println(content)
		return nil
	}),
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// connector subcommands
	connectorCmd.AddCommand(connectorCreateCmd)
	connectorCreateCmd.Flags().String("workspace", "", "Workspace id")
	connectorCreateCmd.Flags().String("data-source", "", "Data source id")
	connectorCreateCmd.Flags().String("connection", "", "Credential name of the connection")
	connectorCreateCmd.Flags().StringToString("set", nil, "Provider setting (key=value)")
	connectorCmd.AddCommand(connectorListCmd)
	connectorCmd.AddCommand(pauseCommand("pause", "Stop scheduled syncs of a connector", true))
	connectorCmd.AddCommand(pauseCommand("resume", "Resume scheduled syncs of a connector", false))

	permissionsCmd.AddCommand(permissionsSetCmd)

	docsCmd.AddCommand(docsShowCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(connectorCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncIncremental, "incremental", false, "Apply the Drive changes feed instead of a full listing")
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("live", false, "Query the running workflow for its phase")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(docsCmd)
}
