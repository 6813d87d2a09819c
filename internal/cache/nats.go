package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/annel0/slime-worlds/internal/logging"
)

// InvalidationMessage - сообщение об изменении мира
type InvalidationMessage struct {
	World     string    `json:"world"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NATSInvalidator реализует Invalidator через NATS Pub/Sub.
// Собственные сообщения узла игнорируются.
type NATSInvalidator struct {
	conn    *nats.Conn
	subject string
	nodeID  string

	mu  sync.Mutex
	sub *nats.Subscription

	published atomic.Int64
	received  atomic.Int64
	failed    atomic.Int64
}

// NewNATSInvalidator подключается к NATS. Пустой nodeID заменяется случайным.
func NewNATSInvalidator(url, subject, nodeID string) (*NATSInvalidator, error) {
	if subject == "" {
		subject = "worlds.cache.invalidate"
	}
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	conn, err := nats.Connect(url,
		nats.Name("slime-cache-"+nodeID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logging.Info("NATS invalidator initialized: %s (subject: %s)", url, subject)
	return &NATSInvalidator{conn: conn, subject: subject, nodeID: nodeID}, nil
}

// NodeID - идентификатор узла в сообщениях
func (n *NATSInvalidator) NodeID() string { return n.nodeID }

func (n *NATSInvalidator) Publish(_ context.Context, name string) error {
	data, err := json.Marshal(InvalidationMessage{
		World:     name,
		Timestamp: time.Now().UTC(),
		NodeID:    n.nodeID,
	})
	if err != nil {
		n.failed.Add(1)
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.failed.Add(1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	n.published.Add(1)
	return nil
}

func (n *NATSInvalidator) Subscribe(handler func(name string)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return errors.New("already subscribed to invalidations")
	}

	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		n.received.Add(1)
		var m InvalidationMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			n.failed.Add(1)
			logging.Error("Failed to unmarshal invalidation message: %v", err)
			return
		}
		if m.NodeID == n.nodeID {
			return
		}
		handler(m.World)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.sub = sub
	return nil
}

// Metrics возвращает счётчики invalidator
func (n *NATSInvalidator) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": n.published.Load(),
		"received_count":  n.received.Load(),
		"errors_count":    n.failed.Load(),
		"connected":       n.conn.IsConnected(),
	}
}

func (n *NATSInvalidator) Close() error {
	n.mu.Lock()
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
		n.sub = nil
	}
	n.mu.Unlock()
	n.conn.Close()
	return nil
}
