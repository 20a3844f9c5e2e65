package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/mmo-physics/internal/logging"
)

// NATSConfig содержит конфигурацию пересылки событий в NATS.
type NATSConfig struct {
	URL           string
	SubjectPrefix string // итоговый subject: <prefix>.<EventType>
	Types         []string
	MaxReconnects int
	ReconnectWait time.Duration
}

// publisher - часть *nats.Conn, нужная мосту
type publisher interface {
	Publish(subject string, data []byte) error
}

// WireEvent - формат события в NATS
type WireEvent struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	EventType     string            `json:"event_type"`
	Version       int               `json:"version"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Priority      int               `json:"priority"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NATSBridge пересылает события локальной шины во внешний NATS.
// Доставка best-effort: ошибки публикации считаются и логируются, шина не блокируется.
type NATSBridge struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	sub    Subscription
	logger *logging.Logger

	forwarded atomic.Uint64
	failed    atomic.Uint64
}

// BridgeStats - счётчики моста
type BridgeStats struct {
	Forwarded uint64 `json:"forwarded"`
	Failed    uint64 `json:"failed"`
}

// NewNATSBridge подключается к NATS и подписывается на события шины.
func NewNATSBridge(ctx context.Context, bus EventBus, cfg NATSConfig, logger *logging.Logger) (*NATSBridge, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("mmo-physics"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b, err := newBridge(ctx, bus, conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.conn = conn
	logger.Info("NATS bridge: %s -> %s.*", cfg.URL, b.prefix)
	return b, nil
}

func newBridge(ctx context.Context, bus EventBus, pub publisher, cfg NATSConfig, logger *logging.Logger) (*NATSBridge, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "physics.events"
	}
	b := &NATSBridge{pub: pub, prefix: prefix, logger: logger}

	sub, err := bus.Subscribe(ctx, Filter{Types: cfg.Types}, b.forward)
	if err != nil {
		return nil, fmt.Errorf("nats bridge subscribe: %w", err)
	}
	b.sub = sub
	return b, nil
}

// Subject возвращает subject NATS для типа события
func (b *NATSBridge) Subject(eventType string) string {
	return b.prefix + "." + eventType
}

func (b *NATSBridge) forward(ctx context.Context, ev *Envelope) {
	data, err := json.Marshal(WireEvent{
		ID:            ev.ID,
		Timestamp:     ev.Timestamp,
		Source:        ev.Source,
		EventType:     ev.EventType,
		Version:       ev.Version,
		CorrelationID: ev.CorrelationID,
		Priority:      ev.Priority,
		Payload:       json.RawMessage(ev.Payload),
		Metadata:      ev.Metadata,
	})
	if err == nil {
		err = b.pub.Publish(b.Subject(ev.EventType), data)
	}
	if err != nil {
		b.failed.Add(1)
		b.logger.Warn("NATS bridge: событие %s не отправлено: %v", ev.ID, err)
		return
	}
	b.forwarded.Add(1)
}

// Stats возвращает счётчики моста
func (b *NATSBridge) Stats() BridgeStats {
	return BridgeStats{Forwarded: b.forwarded.Load(), Failed: b.failed.Load()}
}

// Close отписывается от шины и дренирует соединение
func (b *NATSBridge) Close() error {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
