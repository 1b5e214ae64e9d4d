package sessions

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/config"
)

// KeyPrefix namespaces every Redis key written by Open.
const KeyPrefix = "eduportal:"

// Backend is an opened registry together with its readiness check and
// cleanup. Ping is nil when the registry has no connection of its own.
type Backend struct {
	Name     string
	Registry auth.SessionRegistry
	Ping     func(context.Context) error
	Close    func() error
}

// Open builds the registry selected by cfg.SessionBackend. db backs the
// postgres registry and may be nil for the others.
func Open(cfg *config.Config, db *sqlx.DB, opts ...Option) (*Backend, error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		reg := NewRedis(client, append([]Option{WithKeyPrefix(KeyPrefix)}, opts...)...)
		return &Backend{Name: config.BackendRedis, Registry: reg, Ping: reg.Ping, Close: client.Close}, nil
	case config.BackendMemory:
		return &Backend{Name: config.BackendMemory, Registry: NewMemory(opts...), Close: noClose}, nil
	case config.BackendPostgres, "":
		if db == nil {
			return nil, fmt.Errorf("sessions: %s backend needs a database", config.BackendPostgres)
		}
		reg := NewPostgres(db, opts...)
		return &Backend{Name: config.BackendPostgres, Registry: reg, Ping: reg.Ping, Close: noClose}, nil
	default:
		return nil, fmt.Errorf("sessions: unknown backend %q", cfg.SessionBackend)
	}
}

func noClose() error { return nil }
