package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"authflow/core"
	"authflow/core/providers"
	"authflow/storage"

	"gopkg.in/yaml.v3"
)

const defaultListenAddr = "127.0.0.1"

type AppConfig struct {
	Core    core.Config   `yaml:",inline"`
	Storage StorageConfig `yaml:"storage"`
	Port    string        `yaml:"port"`

	// ListenAddr is the interface the server binds to. GET /token hands out
	// the held session unauthenticated, so it stays on loopback by default.
	ListenAddr string `yaml:"listen_addr"`
}

type StorageConfig struct {
	Type          string              `yaml:"type"`
	SQLitePath    string              `yaml:"sqlite_path"`
	Redis         storage.RedisConfig `yaml:"redis"`
	YDB           storage.YDBConfig   `yaml:"ydb"`
	EncryptionKey string              `yaml:"encryption_key"`
}

func main() {
	configPath := getEnv("CONFIG_PATH", "config.yaml")
	appConfig := loadConfigFromYAML(configPath)
	applyEnvOverrides(appConfig)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	server, closeStore := initServer(appConfig, logger)
	defer closeStore()

	addr := appConfig.listenAddress()
	log.Printf("Starting authflow server on %s (auth available: %v)", addr, server.Available())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// initServer builds the auth subsystem. An incomplete Cognito configuration
// yields an unavailable server and no provider client is ever created.
func initServer(cfg *AppConfig, logger *slog.Logger) (*core.Server, func()) {
	if err := cfg.Core.Validate(); err != nil {
		log.Printf("Auth subsystem disabled: %v", err)
		return core.NewUnavailableServer(err, logger), func() {}
	}

	store, closeStore := initStorage(cfg.Storage)

	hasher := core.NewCredentialHasher(cfg.Core.Cognito.ClientID, cfg.Core.Cognito.ClientSecret)
	pool, err := providers.NewCognitoPool(&cfg.Core.Cognito, store, &providers.CognitoSettings{
		Hasher: hasher,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Cognito client: %v", err)
	}

	cache := core.NewSessionCache(pool, core.NewTokenSlot(store), &core.SessionCacheSettings{
		Logger:         logger,
		ResolveTimeout: cfg.Core.ProviderTimeout,
	})
	authService, err := core.NewAuthService(&cfg.Core, pool, cache, logger)
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}

	log.Printf("Cognito user pool %s in %s configured", cfg.Core.Cognito.UserPoolID, cfg.Core.Cognito.Region)
	return core.NewServer(authService, logger), closeStore
}

func loadConfigFromYAML(path string) *AppConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config file %s: %v", path, err)
	}

	config, err := parseConfig(data)
	if err != nil {
		log.Fatalf("Failed to parse config file: %v", err)
	}
	return config
}

func parseConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if config.Port == "" {
		config.Port = "8080"
	}
	if config.ListenAddr == "" {
		config.ListenAddr = defaultListenAddr
	}
	return &config, nil
}

func (c *AppConfig) listenAddress() string {
	return net.JoinHostPort(c.ListenAddr, c.Port)
}

// applyEnvOverrides lets secrets stay out of the config file.
func applyEnvOverrides(cfg *AppConfig) {
	overrides := map[string]*string{
		"AUTHFLOW_USER_POOL_ID":   &cfg.Core.Cognito.UserPoolID,
		"AUTHFLOW_CLIENT_ID":      &cfg.Core.Cognito.ClientID,
		"AUTHFLOW_CLIENT_SECRET":  &cfg.Core.Cognito.ClientSecret,
		"AUTHFLOW_REGION":         &cfg.Core.Cognito.Region,
		"AUTHFLOW_ENCRYPTION_KEY": &cfg.Storage.EncryptionKey,
		"AUTHFLOW_REDIS_PASSWORD": &cfg.Storage.Redis.Password,
	}
	for key, dest := range overrides {
		if value := os.Getenv(key); value != "" {
			*dest = value
		}
	}
}

func initStorage(cfg StorageConfig) (core.Storage, func()) {
	var (
		store  core.Storage
		closer io.Closer
	)

	switch strings.ToLower(cfg.Type) {
	case "sqlite", "":
		path := cfg.SQLitePath
		if path == "" {
			path = "authflow.db"
		}
		s, err := storage.NewSQLiteStorage(path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
		log.Printf("Using SQLite storage: %s", path)
		store, closer = s, s

	case "redis":
		s, err := storage.NewRedisStorage(context.Background(), cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to initialize Redis storage: %v", err)
		}
		log.Printf("Using Redis storage: %s", cfg.Redis.Addr)
		store, closer = s, s

	case "ydb":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		s, err := storage.NewYDBStorage(ctx, cfg.YDB)
		cancel()
		if err != nil {
			log.Fatalf("Failed to initialize YDB storage: %v", err)
		}
		log.Println("Using YDB storage")
		store, closer = s, s

	case "memory":
		log.Println("Using in-memory storage (tokens are lost on restart)")
		store = storage.NewMemoryStorage()

	default:
		log.Fatalf("Unsupported storage type: %s (supported: sqlite, redis, ydb, memory)", cfg.Type)
	}

	if cfg.EncryptionKey != "" {
		encrypted, err := storage.NewEncryptedStorage(store, cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("Failed to initialize storage encryption: %v", err)
		}
		store = encrypted
	}

	return store, func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			log.Printf("Failed to close storage: %v", err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
