package sink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
)

// DefaultSubject is the subject planner records are published on.
const DefaultSubject = "muesli.planner.v1"

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each record as a JSON message. Publishing is fire and
// forget; the client buffers across reconnects.
type NATS struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
	closed  atomic.Bool
}

// NATSConfig configures DialNATS.
type NATSConfig struct {
	URL     string
	Subject string
	Name    string
	Timeout time.Duration
}

// DialNATS connects to cfg.URL (nats.DefaultURL if empty) with unlimited
// reconnects.
func DialNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "muesli-bt"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	s := NewNATS(conn, cfg.Subject)
	s.conn = conn
	return s, nil
}

// NewNATS publishes through pub. An empty subject uses DefaultSubject.
func NewNATS(pub Publisher, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{pub: pub, subject: subject}
}

func (n *NATS) Subject() string { return n.subject }

func (n *NATS) Write(_ context.Context, rec *planner.Record) error {
	if n.closed.Load() {
		return ErrClosed
	}
	data, err := encode(rec)
	if err != nil {
		return fmt.Errorf("sink: encode record: %w", err)
	}
	if err := n.pub.Publish(n.subject, data[:len(data)-1]); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.subject, err)
	}
	return nil
}

// Close drains the connection if DialNATS opened it.
func (n *NATS) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n.conn != nil {
		return n.conn.Drain()
	}
	return nil
}
