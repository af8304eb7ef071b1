package clients

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisPinger is the interface used by RedisGate for readiness checks.
// It is implemented by the real go-redis client and by test doubles.
type redisPinger interface {
	PingResult(ctx context.Context) (string, error)
	Close() error
}

// realRedisPinger adapts *redis.Client to redisPinger so tests do not need to
// construct a *redis.StatusCmd.
type realRedisPinger struct {
	client *redis.Client
}

func (r *realRedisPinger) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

func (r *realRedisPinger) Close() error {
	return r.client.Close()
}

// RedisGate reports whether a Redis server in the stack accepts commands.
type RedisGate struct {
	addr    string
	connect func(addr string) redisPinger
}

// NewRedisGate creates a gate for the server at addr (host:port).
func NewRedisGate(addr string) *RedisGate {
	return &RedisGate{
		addr: addr,
		connect: func(addr string) redisPinger {
			return &realRedisPinger{client: redis.NewClient(&redis.Options{
				Addr:       addr,
				MaxRetries: -1,
			})}
		},
	}
}

// Name identifies the gate in logs.
func (g *RedisGate) Name() string { return "redis " + g.addr }

// Ping opens a client, sends PING and closes the client again. The connection
// is never kept past the call.
func (g *RedisGate) Ping(ctx context.Context) error {
	p := g.connect(g.addr)
	defer p.Close() //nolint:errcheck

	val, err := p.PingResult(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if val != "PONG" {
		return fmt.Errorf("unexpected PING response: %q", val)
	}
	return nil
}
