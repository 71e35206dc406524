package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stokerhq/stoker"
	"github.com/stokerhq/stoker/factory"
	"github.com/stokerhq/stoker/internal"
)

func main() {
	config := loadConfig()

	logger, err := buildLogger(config.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	schemaFile := getEnv("SCHEMA_FILE", "schema.json")
	schema, err := loadSchema(schemaFile)
	if err != nil {
		sugar.Fatalf("failed to load schema: %v", err)
	}
	sugar.Infow("schema loaded", "file", schemaFile, "version", schema.Version, "collections", len(schema.Collections))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := factory.NewPool(ctx, config.Database)
	cancel()
	if err != nil {
		sugar.Fatalf("failed to create database pool: %v", err)
	}
	defer pool.Close()

	engine, err := factory.NewEngineWithConfig(context.Background(), schema, pool, config, nil)
	if err != nil {
		sugar.Fatalf("failed to build engine: %v", err)
	}

	store := internal.NewPostgresStore(pool, config.Database.TableNames, config.Store)
	if config.AuditLog.Enabled {
		go runTTLReaper(context.Background(), store)
	}

	server := NewServer(engine, store, newStorePermissionsProvider(store))
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// runTTLReaper periodically removes documents past their native TTL.
func runTTLReaper(ctx context.Context, store *internal.PostgresStore) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.ReapExpired(ctx, time.Now().UTC())
			if err != nil {
				zap.S().Warnw("ttl reap failed", "error", err)
				continue
			}
			if n > 0 {
				zap.S().Infow("ttl reap", "removed", n)
			}
		}
	}
}

// loadConfig reads the optional YAML config file, then applies environment
// overrides on top.
func loadConfig() *stoker.Config {
	config := stoker.DefaultConfig()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			panic(fmt.Sprintf("read config file %s: %v", file, err))
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			panic(fmt.Sprintf("parse config file %s: %v", file, err))
		}
	}

	config.Database.Host = getEnv("DB_HOST", config.Database.Host)
	config.Database.Port = getEnvInt("DB_PORT", config.Database.Port)
	config.Database.Database = getEnv("DB_NAME", config.Database.Database)
	config.Database.Username = getEnv("DB_USER", config.Database.Username)
	config.Database.Password = getEnv("DB_PASSWORD", config.Database.Password)
	config.Database.SSLMode = getEnv("DB_SSL_MODE", config.Database.SSLMode)
	config.Database.MaxConnections = getEnvInt("DB_MAX_CONNECTIONS", config.Database.MaxConnections)
	config.Database.TableNames.Documents = getEnv("DOCUMENTS_TABLE", config.Database.TableNames.Documents)
	config.Logging.Level = getEnv("LOG_LEVEL", config.Logging.Level)
	return config
}

func loadSchema(file string) (*stoker.CollectionsSchema, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var schema stoker.CollectionsSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	if len(schema.Collections) == 0 {
		return nil, fmt.Errorf("schema declares no collections")
	}
	for name, c := range schema.Collections {
		if c.Name == "" {
			c.Name = name
		}
	}
	return &schema, nil
}

func buildLogger(cfg stoker.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
