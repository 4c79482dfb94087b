package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/access"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/config"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/database"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/lobbies"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/logging"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/notes"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/server"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/solutions"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lobbyboard-api",
		Short: "Lobby board backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional dotenv file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for token revocation")
	cmd.PersistentFlags().Bool("canonical-echo", false, "Broadcast stored notes instead of client payloads")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "realtime.canonical_echo", "canonical-echo")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

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

func newTokenCommand() *cobra.Command {
	var actor auth.Actor
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed token for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			issued, err := issuer.IssueToken(cmd.Context(), actor)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), issued.Value)
			return err
		},
	}
	cmd.Flags().StringVar(&actor.ID, "user-id", "", "Actor identifier")
	cmd.Flags().StringVar(&actor.Username, "username", "", "Actor display name")
	cmd.Flags().StringVar(&actor.Role, "role", "student", "Actor role")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	var revocations auth.RevocationList = auth.NoopRevocationList{}
	if appConfig.RedisURL != "" {
		redisRevocations, err := auth.NewRedisRevocationList(ctx, appConfig.RedisURL)
		if err != nil {
			return err
		}
		defer redisRevocations.Close()
		revocations = redisRevocations
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	solutionsService, err := solutions.NewService(solutions.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	lobbiesService, err := lobbies.NewService(lobbies.ServiceConfig{
		Database:  db,
		Notes:     notesService,
		Solutions: solutionsService,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	resolver, err := access.NewResolver(access.ResolverConfig{
		Directory:            lobbiesService,
		PrivilegedRoles:      appConfig.PrivilegedRoles,
		FullyPrivilegedRoles: appConfig.FullyPrivilegedRoles,
		Logger:               logger,
	})
	if err != nil {
		return err
	}

	hub := realtime.NewHub(realtime.HubConfig{
		SendBuffer: appConfig.RealtimeSendBuffer,
		Logger:     logger,
	})
	board, err := realtime.NewBoard(realtime.BoardConfig{
		Hub:           hub,
		Notes:         notesService,
		Authorizer:    resolver,
		Logger:        logger,
		CanonicalEcho: appConfig.RealtimeCanonicalEcho,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuer,
		Revocations:    revocations,
		Users:          usersService,
		Lobbies:        lobbiesService,
		Notes:          notesService,
		Solutions:      solutionsService,
		Access:         resolver,
		Hub:            hub,
		Board:          board,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
