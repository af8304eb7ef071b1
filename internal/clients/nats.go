package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultNATSDialTimeout = 2 * time.Second

// natsConn is the subset of *nats.Conn the gate needs.
type natsConn interface {
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSGate reports whether a NATS server in the stack completes a round trip.
type NATSGate struct {
	url     string
	connect func(url string, timeout time.Duration) (natsConn, error)
}

// NewNATSGate creates a gate for the server at url.
func NewNATSGate(url string) *NATSGate {
	return &NATSGate{
		url:     url,
		connect: realNATSConnect,
	}
}

// Name identifies the gate in logs.
func (g *NATSGate) Name() string { return "nats " + g.url }

// Ping connects, flushes one PING/PONG round trip and closes the connection.
func (g *NATSGate) Ping(ctx context.Context) error {
	timeout := defaultNATSDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}

	nc, err := g.connect(g.url, timeout)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", g.url, err)
	}
	defer nc.Close()

	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func realNATSConnect(url string, timeout time.Duration) (natsConn, error) {
	nc, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.Name("world-queries"),
	)
	if err != nil {
		return nil, err
	}
	return nc, nil
}
