package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/wbs/internal/adapters/server"
	"github.com/hylla/wbs/internal/adapters/storage/sqlite"
	"github.com/hylla/wbs/internal/app"
	"github.com/hylla/wbs/internal/config"
	"github.com/hylla/wbs/internal/platform"
)

var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// annotationNoStore marks commands that run without opening the database.
const annotationNoStore = "wbs/no-store"

func main() {
	env := newCLIEnv(os.Stdout, os.Stderr)
	err := fang.Execute(context.Background(), newRootCmd(env), fang.WithVersion(version), fang.WithNotifySignal(os.Interrupt))
	env.close()
	if err != nil {
		os.Exit(1)
	}
}

// run executes one command line without fang styling.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	env := newCLIEnv(stdout, stderr)
	defer env.close()
	root := newRootCmd(env)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	actorID    string
}

// cliEnv carries the resolved runtime for one command invocation.
type cliEnv struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags

	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
	repo       *sqlite.Repository
	svc        *app.Service
}

func newCLIEnv(stdout, stderr io.Writer) *cliEnv {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &cliEnv{stdout: stdout, stderr: stderr}
}

func newRootCmd(env *cliEnv) *cobra.Command {
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("WBS_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	defaultApp := "wbs"
	if envApp := strings.TrimSpace(os.Getenv("WBS_APP_NAME")); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:           "wbs",
		Short:         "Hierarchical work-breakdown trees with rolled-up progress",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return env.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			env.logger.Debug("command flow complete", "command", cmd.CommandPath())
			return nil
		},
	}
	root.SetOut(env.stdout)
	root.SetErr(env.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&env.flags.configPath, "config", "", "path to config TOML (env WBS_CONFIG)")
	pf.StringVar(&env.flags.dbPath, "db", "", "path to sqlite database (env WBS_DB_PATH)")
	pf.StringVar(&env.flags.appName, "app", defaultApp, "application name for config/data path resolution")
	pf.BoolVar(&env.flags.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	pf.StringVar(&env.flags.actorID, "actor", "", "actor id recorded in the change ledger")

	root.AddCommand(
		newPathsCmd(env),
		newConfigCmd(env),
		newProjectCmd(env),
		newItemCmd(env),
		newPromoteCmd(env),
		newDemoteCmd(env),
		newDeleteCmd(env),
		newTreeCmd(env),
		newLogCmd(env),
		newDoctorCmd(env),
		newServeCmd(env),
	)
	return root
}

// resolvePaths resolves platform paths and the config/db locations with flag and env overrides.
func (e *cliEnv) resolvePaths() (dbOverridden bool, err error) {
	e.paths, err = platform.DefaultPathsWithOptions(platform.Options{
		AppName: e.flags.appName,
		DevMode: e.flags.devMode,
	})
	if err != nil {
		return false, err
	}
	e.configPath = strings.TrimSpace(e.flags.configPath)
	if e.configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("WBS_CONFIG")); envPath != "" {
			e.configPath = envPath
		} else {
			e.configPath = e.paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(e.flags.dbPath)
	dbOverridden = dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("WBS_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = e.paths.DBPath
		}
	}
	e.flags.dbPath = dbPath
	return dbOverridden, nil
}

// open loads config, builds the runtime logger, and opens the store unless the command opts out.
func (e *cliEnv) open(cmd *cobra.Command) error {
	dbOverridden, err := e.resolvePaths()
	if err != nil {
		return err
	}
	cfg, err := config.Load(e.configPath, config.Default(e.flags.dbPath))
	if err != nil {
		return fmt.Errorf("load config %q: %w", e.configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = e.flags.dbPath
	}
	e.cfg = cfg

	logger, err := newRuntimeLogger(e.stderr, e.flags.appName, e.flags.devMode, cfg.Logging, time.Now)
	if err != nil {
		return fmt.Errorf("configure runtime logger: %w", err)
	}
	e.logger = logger

	command := cmd.CommandPath()
	logger.Debug("startup configuration resolved", "app", e.flags.appName, "dev_mode", e.flags.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", e.configPath, "data_dir", e.paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Debug("dev file logging enabled", "path", devPath)
	}
	if cmd.Annotations[annotationNoStore] == "true" {
		return nil
	}

	if err := platform.EnsureDataDir(cfg.Database.Path); err != nil {
		return err
	}
	logger.Debug("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		return fmt.Errorf("open sqlite repository: %w", err)
	}
	e.repo = repo
	logger.Debug("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	e.svc = app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		EventListLimit: cfg.Events.ListLimit,
		DefaultActorID: cfg.Identity.ActorID,
	})
	if actorID := strings.TrimSpace(e.flags.actorID); actorID != "" {
		cmd.SetContext(app.WithMutationActor(cmd.Context(), app.MutationActor{ActorID: actorID}))
	}
	logger.Debug("command flow start", "command", command)
	return nil
}

// close releases the store and the dev log sink.
func (e *cliEnv) close() {
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Warn("sqlite close failed", "db_path", e.cfg.Database.Path, "err", err)
		}
		e.repo = nil
	}
	if e.logger != nil {
		if err := e.logger.Close(); err != nil {
			_, _ = fmt.Fprintf(e.stderr, "warning: close runtime log sink: %v\n", err)
		}
		e.logger = nil
	}
}

func newPathsCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:         "paths",
		Short:       "Show resolved config, data, and database paths",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", env.flags.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", env.flags.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", env.configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", env.paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", env.cfg.Database.Path)
			return nil
		},
	}
}

func newConfigCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the TOML config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write the default config file if none exists",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			written, err := config.WriteDefault(env.configPath, config.Default(env.paths.DBPath))
			if err != nil {
				return err
			}
			if !written {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "config exists: %s\n", env.configPath)
				return nil
			}
			env.logger.Info("config written", "config_path", env.configPath)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", env.configPath)
			return nil
		},
	})
	return cmd
}

// parseBoolEnv parses a boolean environment variable; ok is false when unset or malformed.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
