package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scottteague/indentr/internal/auth"
	"github.com/scottteague/indentr/internal/config"
	"github.com/scottteague/indentr/internal/database"
	"github.com/scottteague/indentr/internal/logging"
	"github.com/scottteague/indentr/internal/replication"
	"github.com/scottteague/indentr/internal/scheduler"
	"github.com/scottteague/indentr/internal/server"
	"github.com/scottteague/indentr/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string

	errSyncFailed     = errors.New("sync cycle failed")
	errMissingSecret  = errors.New("control.signing_secret is required to issue tokens")
	errMissingUsername = errors.New("--username is required")
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "indentr-sync",
		Short:         "Replicates the local indentr store with a shared remote store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newDaemonCommand(),
		newOnceCommand(),
		newStatusCommand(),
		newMigrateCommand(),
		newIdentityCommand(),
		newTokenCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("local-driver", defaults.GetString("database.local_driver"), "Local store driver (sqlite, postgres)")
	flags.String("local-dsn", defaults.GetString("database.local_dsn"), "Local store DSN")
	flags.String("remote-driver", defaults.GetString("database.remote_driver"), "Remote store driver (sqlite, postgres)")
	flags.String("remote-dsn", "", "Remote store DSN; empty runs offline")
	flags.Duration("sync-interval", defaults.GetDuration("sync.interval"), "Interval between periodic sync cycles")
	flags.Duration("probe-timeout", defaults.GetDuration("sync.probe_timeout"), "Remote reachability probe timeout")
	flags.Duration("safety-buffer", defaults.GetDuration("sync.safety_buffer"), "Pull overlap subtracted from the watermark")
	flags.String("http-address", defaults.GetString("http.address"), "Control API listen address")
	flags.String("signing-secret", "", "Control API signing secret (overrides env)")
	flags.Duration("token-ttl", defaults.GetDuration("control.token_ttl"), "Control API token lifetime")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Rotating log file path")

	bindFlag(cmd, "database.local_driver", "local-driver")
	bindFlag(cmd, "database.local_dsn", "local-dsn")
	bindFlag(cmd, "database.remote_driver", "remote-driver")
	bindFlag(cmd, "database.remote_dsn", "remote-dsn")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "sync.probe_timeout", "probe-timeout")
	bindFlag(cmd, "sync.safety_buffer", "safety-buffer")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "control.signing_secret", "signing-secret")
	bindFlag(cmd, "control.token_ttl", "token-ttl")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// app holds the opened stores for one command invocation.
type app struct {
	config config.AppConfig
	logger *zap.Logger
	local  *gorm.DB
	remote *gorm.DB
}

func openApp(ctx context.Context) (*app, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return nil, err
	}

	local, err := database.OpenLocal(ctx, appConfig.LocalDriver, appConfig.LocalDSN, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	rt := &app{config: appConfig, logger: logger, local: local}
	if appConfig.RemoteConfigured() {
		remote, err := database.Open(appConfig.RemoteDriver, appConfig.RemoteDSN, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.remote = remote
	}
	return rt, nil
}

func (rt *app) close() {
	if rt.remote != nil {
		if err := database.Close(rt.remote); err != nil {
			rt.logger.Warn("failed to close remote store", zap.Error(err))
		}
	}
	if err := database.Close(rt.local); err != nil {
		rt.logger.Warn("failed to close local store", zap.Error(err))
	}
	_ = rt.logger.Sync()
}

func (rt *app) newEngine() (*replication.Engine, error) {
	return replication.NewEngine(replication.EngineConfig{
		Local:        rt.local,
		Remote:       rt.remote,
		ProbeTimeout: rt.config.ProbeTimeout,
		SafetyBuffer: rt.config.SafetyBuffer,
		Logger:       rt.logger,
	})
}

func newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run periodic sync cycles and serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			return runDaemon(cmd.Context(), rt)
		},
	}
}

func runDaemon(ctx context.Context, rt *app) error {
	engine, err := rt.newEngine()
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	syncScheduler, err := scheduler.New(scheduler.Config{
		Syncer:    engine,
		Interval:  rt.config.SyncInterval,
		Publisher: dispatcher,
		Logger:    rt.logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Scheduler: syncScheduler,
		Status:    engine,
		Realtime:  dispatcher,
		Logger:    rt.logger,
	}
	if rt.config.ControlSigningSecret != "" {
		validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
			SigningSecret: []byte(rt.config.ControlSigningSecret),
		})
		if err != nil {
			return err
		}
		deps.TokenValidator = validator
	} else {
		rt.logger.Warn("control API running without authentication; set control.signing_secret to require tokens")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              rt.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return syncScheduler.Run(groupCtx)
	})
	group.Go(func() error {
		rt.logger.Info("control API starting", zap.String("address", rt.config.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			engine, err := rt.newEngine()
			if err != nil {
				return err
			}
			result := engine.SyncOnce(cmd.Context())
			if err := writeJSON(cmd, result); err != nil {
				return err
			}
			if result.Status == replication.StatusFailed {
				return fmt.Errorf("%w: %s", errSyncFailed, result.Message)
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the last successful sync time and pending change count",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			engine, err := rt.newEngine()
			if err != nil {
				return err
			}
			syncedAt, err := engine.LastSyncedAt(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := replication.ReadChangeLog(cmd.Context(), rt.local)
			if err != nil {
				return err
			}

			status := struct {
				RemoteConfigured bool       `json:"remote_configured"`
				LastSyncedAt     *time.Time `json:"last_synced_at"`
				PendingChanges   int        `json:"pending_changes"`
			}{
				RemoteConfigured: engine.RemoteConfigured(),
				PendingChanges:   len(entries),
			}
			if !syncedAt.IsZero() {
				status.LastSyncedAt = &syncedAt
			}
			return writeJSON(cmd, status)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the local store schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the local store applies pending migrations.
			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "local schema at %s\n", database.SchemaVersion())
			return err
		},
	}
}

func newIdentityCommand() *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect or repair the local user identity",
	}

	var username string
	adoptCmd := &cobra.Command{
		Use:   "adopt",
		Short: "Replace the local user id with the remote id for the same username",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errMissingUsername
			}
			rt, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			service, err := users.NewService(users.ServiceConfig{
				Local:  rt.local,
				Remote: rt.remote,
				Logger: rt.logger,
			})
			if err != nil {
				return err
			}
			user, err := service.AdoptRemoteIdentity(cmd.Context(), username)
			if err != nil {
				return err
			}
			return writeJSON(cmd, user)
		},
	}
	adoptCmd.Flags().StringVar(&username, "username", "", "Username to re-derive from the remote store")

	identityCmd.AddCommand(adoptCmd)
	return identityCmd
}

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if appConfig.ControlSigningSecret == "" {
				return errMissingSecret
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.ControlSigningSecret),
				Issuer:        auth.DefaultIssuer,
				Audience:      auth.DefaultAudience,
				TokenTTL:      appConfig.ControlTokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{
				"access_token": token,
				"expires_in":   expiresIn,
				"token_type":   "Bearer",
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject recorded in the token")
	return cmd
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
