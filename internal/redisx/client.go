// Package redisx builds the optional Redis client used by the event bus.
package redisx

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis client.
type Config struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	TLSEnabled  bool
	TLSInsecure bool
	DialTimeout time.Duration
}

// Enabled reports whether an address was configured.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// Options converts c to go-redis options.
func (c Config) Options() *redis.Options {
	opts := &redis.Options{
		Addr:     c.Addr,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: c.TLSInsecure, // #nosec G402 – intentional opt-in
		}
	}
	return opts
}

// NewClient returns a pinged client, or nil when no address is configured.
func NewClient(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(cfg.Options())
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
