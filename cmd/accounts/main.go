// Package main provides the main entry point for the accounts service
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/pnocera/accounts/api"
	"github.com/pnocera/accounts/pkg/config"
	"github.com/pnocera/accounts/pkg/interfaces"
	"github.com/pnocera/accounts/pkg/logger"
	"github.com/pnocera/accounts/pkg/metrics"
	"github.com/pnocera/accounts/pkg/notify"
	"github.com/pnocera/accounts/pkg/revocation"
	"github.com/pnocera/accounts/pkg/security"
	"github.com/pnocera/accounts/pkg/usecases"
	"github.com/pnocera/accounts/pkg/users"
)

// Version information (set by build process)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// recoveryTokenInfo binds derived keys to the recovery token purpose
const recoveryTokenInfo = "accounts/recovery-token"

// Command line flags
var (
	configFile  = flag.String("config", "", "Path to configuration file")
	logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	showVersion = flag.Bool("version", false, "Show version information")
	writeConfig = flag.String("write-config", "", "Write the effective configuration to this path and exit")
	healthcheck = flag.Bool("healthcheck", false, "Check the local /health endpoint and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("accounts %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	manager := config.NewManager(*configFile)
	cfg, err := manager.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if *writeConfig != "" {
		if err := cfg.WriteYAML(*writeConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", *writeConfig)
		os.Exit(0)
	}

	if *healthcheck {
		if err := checkHealth(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "unhealthy: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, manager, cfg); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}

func run(ctx context.Context, manager *config.Manager, cfg *config.Config) error {
	zl, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("Starting accounts", map[string]interface{}{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
		"env":        cfg.Server.Env,
	})
	if cfg.AuthBypassed() {
		zl.Warn("Authentication is disabled; every request acts as the system user")
	}

	manager.Watch(func(updated *config.Config, err error) {
		if err != nil {
			zl.Error("Ignoring invalid configuration change", err)
			return
		}
		if *logLevel != "" || updated.Log.Level == zl.Level() {
			return
		}
		if err := zl.SetLevel(updated.Log.Level); err != nil {
			zl.Error("Failed to apply log level", err)
			return
		}
		zl.Info("Log level changed", map[string]interface{}{"level": updated.Log.Level})
	})

	prom := metrics.NewPrometheusMetrics()
	var collector interfaces.Metrics = prom
	if !cfg.Metrics.Enabled {
		collector = metrics.NewNoOpMetrics()
	}

	repo, err := users.NewRepository(ctx, cfg.Database, cfg.API.SystemUser, zl)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			zl.Error("Failed to close repository", err)
		}
	}()

	crypt, err := security.NewEncryptor(cfg.API.Crypt.Key, recoveryTokenInfo)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}

	renderer, err := notify.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load notification templates: %w", err)
	}

	notifier, err := newNotifier(cfg.Notifications, zl)
	if err != nil {
		return err
	}
	defer func() { _ = notifier.Close() }()

	revoked := newRevocationStore(cfg.Revocation)
	defer func() { _ = revoked.Close() }()

	tokens := security.NewTokenService(cfg.API.Auth.Token.Secret, cfg.API.URI, cfg.API.Alias, cfg.API.Auth.Token.Expiration)

	deps := &usecases.Dependencies{
		Config:     cfg,
		Store:      repo,
		Passwords:  security.NewPasswordService(cfg.API.Auth.PasswordCost),
		Tokens:     tokens,
		OTP:        security.NewOTPService(cfg.API.Name),
		Crypt:      crypt,
		Renderer:   renderer,
		Notifier:   notifier,
		Revocation: revoked,
		Logger:     zl,
		Metrics:    collector,
	}

	mediator := usecases.NewMediator(zl, collector)
	usecases.RegisterAll(mediator, deps)
	zl.Debug("Use cases registered", map[string]interface{}{"names": mediator.Names()})

	server := api.NewServer(api.Options{
		Config:     cfg,
		Mediator:   mediator,
		Tokens:     tokens,
		Revocation: revoked,
		Logger:     zl,
		Metrics:    collector,
		Prometheus: prom,
		Checks: map[string]interfaces.HealthChecker{
			"database":   repo,
			"revocation": revoked,
		},
		Version: Version,
	})

	return server.Start(ctx)
}

func newNotifier(cfg config.NotificationsConfig, zl interfaces.Logger) (notify.Notifier, error) {
	switch cfg.Backend {
	case "nats":
		n, err := notify.ConnectNATS(cfg.NATSURL, cfg.Subject, zl)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return notify.NewLogNotifier(zl), nil
	}
}

func newRevocationStore(cfg config.RevocationConfig) revocation.Store {
	switch cfg.Backend {
	case "redis":
		return revocation.NewRedisStore(revocation.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return revocation.NewMemoryStore()
	}
}

// checkHealth checks the health endpoint of a server running with cfg
func checkHealth(cfg *config.Config) error {
	client := resty.New().SetTimeout(3 * time.Second)
	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)

	return retry.Do(
		func() error {
			resp, err := client.R().Get(url)
			if err != nil {
				return err
			}
			if resp.StatusCode() != http.StatusOK {
				return fmt.Errorf("health endpoint returned %d: %s", resp.StatusCode(), resp.String())
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}
