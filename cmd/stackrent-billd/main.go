// Command stackrent-billd is the standalone billing daemon. It runs the usage
// reconciliation pass on a fixed interval and heartbeats the coordination row
// that tells the in-process scheduler inside stackrentd to stand down.
//
// It shares the database and configuration environment with stackrentd, so
// both drivers see the same checkpoints and wallets.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/stackrent/stackrent/internal/core/crypto"
	"github.com/stackrent/stackrent/internal/core/domain"
	"github.com/stackrent/stackrent/internal/shell/audit"
	"github.com/stackrent/stackrent/internal/shell/billing"
	"github.com/stackrent/stackrent/internal/shell/compute"
	"github.com/stackrent/stackrent/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitDatabaseError = 2
)

// Config holds the daemon configuration. Keys and environment variables match
// stackrentd so the two processes can share a deployment environment.
type Config struct {
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Crypto struct {
		Passphrase string `mapstructure:"passphrase"`
	} `mapstructure:"crypto"`
	Billing struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"billing"`
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.dsn", "./data/stackrent.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("crypto.passphrase", "")
	v.SetDefault("billing.interval", "10m")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("STACKRENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Log.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("stackrent-billd %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := setupLogger(cfg)
	logger.Info("starting stackrent-billd",
		"version", Version,
		"interval", cfg.Billing.Interval,
	)

	if cfg.Crypto.Passphrase == "" {
		logger.Error("crypto.passphrase is required (STACKRENT_CRYPTO_PASSPHRASE)")
		return ExitConfigError
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return ExitDatabaseError
	}
	defer s.Close()

	// The compute service gives the engine its suspender: shortfalls shut the
	// instance down upstream.
	encryptionKey := crypto.DeriveKey(cfg.Crypto.Passphrase)
	recorder := audit.NewStoreRecorder(s, logger)
	computeSvc := compute.NewService(s, encryptionKey, recorder, logger)

	engine := billing.NewEngine(s, computeSvc, logger)
	driver := billing.NewDriver(engine, s, domain.DriverDaemon, billing.DriverConfig{
		Interval: cfg.Billing.Interval,
	}, logger)

	driver.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	driver.Stop()
	logger.Info("shutdown complete")
	return ExitSuccess
}
