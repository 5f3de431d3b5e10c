// Copyright 2025 James Ross
// Package redisclient constructs the pooled list-store clients shared by
// every process in the job-execution substrate.
package redisclient

import (
	"crypto/tls"
	"runtime"

	"github.com/archivault/workers/internal/config"
	legacyredis "github.com/go-redis/redis/v8"
	"github.com/redis/go-redis/v9"
)

// New returns a configured go-redis v9 client, the primary client used by
// the queue layer, lock, and tenant accounting.
func New(cfg *config.Config) *redis.Client {
	poolSize := cfg.Redis.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	opts := &redis.Options{
		Addr:         cfg.Redis.Addr,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     poolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	}
	if cfg.Redis.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// NewLegacy returns a go-redis v8 client pointed at the same endpoint, used
// exclusively by the one-shot legacy-queue migration utility so it can
// speak to the shared keys that predate the namespaced queue layer.
func NewLegacy(cfg *config.Config) *legacyredis.Client {
	opts := &legacyredis.Options{
		Addr:        cfg.Redis.Addr,
		Username:    cfg.Redis.Username,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		ReadTimeout: cfg.Redis.ReadTimeout,
	}
	if cfg.Redis.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return legacyredis.NewClient(opts)
}
