package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"exam-integrity-monitor/identity"
	"exam-integrity-monitor/journal"
	"exam-integrity-monitor/logging"
	"exam-integrity-monitor/monitor"
	"exam-integrity-monitor/proctor"
	redis "exam-integrity-monitor/redis"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	ServerConfig ServerConfig `mapstructure:"server_config"`

	LogLevel string             `mapstructure:"log_level"`
	LogFile  logging.FileConfig `mapstructure:"log_file"`

	JwtPrivateKeyPath string        `mapstructure:"jwt_private_key_path"`
	TokenIssuer       string        `mapstructure:"token_issuer"`
	TokenValidity     time.Duration `mapstructure:"token_validity"`

	ProctorBackendUrl string        `mapstructure:"proctor_backend_url"`
	BackendTimeout    time.Duration `mapstructure:"backend_timeout"`

	JournalPath string         `mapstructure:"journal_path"`
	Monitor     monitor.Config `mapstructure:"monitor"`

	StorageType         string                    `mapstructure:"storage_type"`
	RedisConfig         redis.RedisConfig         `mapstructure:"redis_config"`
	RedisSentinelConfig redis.RedisSentinelConfig `mapstructure:"redis_sentinel_config"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_config.host", "0.0.0.0")
	v.SetDefault("server_config.port", 8080)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file.max_size_mb", 10)
	v.SetDefault("log_file.max_backups", 3)
	v.SetDefault("log_file.max_age_days", 7)

	v.SetDefault("token_issuer", "exam-integrity-monitor")
	v.SetDefault("token_validity", DefaultTokenValidity.String())

	v.SetDefault("proctor_backend_url", "http://localhost:5000")
	v.SetDefault("backend_timeout", proctor.DefaultTimeout.String())

	d := monitor.DefaultConfig()
	v.SetDefault("monitor.max_tab_switches", d.MaxTabSwitches)
	v.SetDefault("monitor.grace_period", d.GracePeriod.String())
	v.SetDefault("monitor.verify_interval", d.VerifyInterval.String())
	v.SetDefault("monitor.debounce_window", d.DebounceWindow.String())
	v.SetDefault("monitor.frame_interval", d.FrameInterval.String())
	v.SetDefault("monitor.max_in_flight", d.MaxInFlight)
	v.SetDefault("monitor.jpeg_quality", d.JPEGQuality)
	v.SetDefault("monitor.max_frame_width", d.MaxFrameWidth)
	v.SetDefault("monitor.max_frame_height", d.MaxFrameHeight)
	v.SetDefault("monitor.discard_out_of_order", d.DiscardOutOfOrder)

	v.SetDefault("storage_type", "memory")
	v.SetDefault("redis_config.namespace", "proctor")
	v.SetDefault("redis_sentinel_config.namespace", "proctor")
}

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		fatal("please provide a config path using the --config flag")
	}

	v, config, err := readConfigFile(*configPath)
	if err != nil {
		fatal("failed to read config file", "error", err)
	}

	logging.InitLoggerWithFile(config.LogLevel, config.LogFile)
	watchConfig(v)
	slog.Info("Using config", "path", *configPath)

	tokenIssuer, err := NewRSATokenIssuer(config.JwtPrivateKeyPath, config.TokenIssuer, config.TokenValidity)
	if err != nil {
		fatal("failed to instantiate token issuer", "error", err)
	}

	nonceStorage, guardStore, namespace, err := createStorage(&config)
	if err != nil {
		fatal("failed to instantiate storage", "error", err)
	}

	backend := proctor.NewHTTPClient(config.ProctorBackendUrl, config.BackendTimeout)
	checkBackend(backend, config.ProctorBackendUrl)

	state := &ServerState{
		nonceStorage:  nonceStorage,
		tokenIssuer:   tokenIssuer,
		backend:       backend,
		sessions:      NewSessionRegistry(),
		guardStore:    guardStore,
		namespace:     namespace,
		monitorConfig: config.Monitor,
	}

	if config.JournalPath != "" {
		store, err := journal.NewStore(config.JournalPath)
		if err != nil {
			fatal("failed to open journal", "path", config.JournalPath, "error", err)
		}
		defer store.Close()
		state.journal = store
	}

	server, err := NewServer(state, config.ServerConfig)
	if err != nil {
		fatal("failed to create server", "error", err)
	}

	err = server.ListenAndServe()
	if err != nil {
		fatal("failed to listen and serve", "error", err)
	}
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// readConfigFile loads a JSON config. Every key can be overridden with a
// PROCTOR_ prefixed environment variable, e.g. PROCTOR_MONITOR_GRACE_PERIOD.
func readConfigFile(path string) (*viper.Viper, Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix("PROCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, Config{}, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return v, config, nil
}

// watchConfig applies log level changes without a restart. Other settings
// only take effect for sessions created after a restart.
func watchConfig(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("log_level")
		slog.Info("Configuration file changed", "file", e.Name, "log_level", level)
		logging.SetLevel(level)
	})
	v.WatchConfig()
}

func checkBackend(backend proctor.Client, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := backend.HealthCheck(ctx); err != nil {
		slog.Warn("Proctor backend not reachable at startup", "url", url, "error", err)
		return
	}
	slog.Info("Proctor backend reachable", "url", url)
}

func createStorage(config *Config) (NonceStorage, identity.GuardStore, string, error) {
	switch config.StorageType {
	case "redis":
		slog.Info("Using redis storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, nil, "", err
		}
		ns := config.RedisConfig.Namespace
		return NewRedisNonceStorage(client, ns), identity.NewRedisGuardStore(client), ns, nil
	case "redis_sentinel":
		slog.Info("Using redis sentinel storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, nil, "", err
		}
		ns := config.RedisSentinelConfig.Namespace
		return NewRedisNonceStorage(client, ns), identity.NewRedisGuardStore(client), ns, nil
	case "memory":
		slog.Info("Using in memory storage")
		return NewInMemoryNonceStorage(), identity.NewInMemoryGuardStore(), "proctor", nil
	}
	return nil, nil, "", fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
