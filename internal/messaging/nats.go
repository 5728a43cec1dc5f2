// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the report bot services. It handles connection lifecycle,
// subject-based subscriptions, and helpers for the archive and report
// subjects.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects used across services.
const (
	SubjectArchive         = "chat.archive"     // messages posted/deleted on the platform
	SubjectReportSubmitted = "report.submitted" // confirmed reports
	SubjectReportTriaged   = "report.triaged"   // + .<priority>

	// QueueTriage load-balances submitted reports across triage workers.
	QueueTriage = "triage"

	// QueueArchive spreads archive events over gateways; they share one
	// Redis archive, so each event is stored once.
	QueueArchive = "archive"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "reportbot",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// QueueSubscribe registers a handler for the given subject in a queue group,
// so each message reaches only one member. The subscription is kept for
// cleanup on Close.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s/%s: %w", subject, queue, err)
	}
	c.track(subject+"#"+queue, sub)
	return nil
}

// SubscribeArchive joins the archive queue group for events from the chat
// platform.
func (c *NATSClient) SubscribeArchive(handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectArchive, QueueArchive, handler)
}

// PublishReportSubmitted publishes a confirmed report.
func (c *NATSClient) PublishReportSubmitted(data []byte) error {
	return c.Publish(SubjectReportSubmitted, data)
}

// SubscribeReportSubmitted joins the triage queue group for confirmed
// reports.
func (c *NATSClient) SubscribeReportSubmitted(handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectReportSubmitted, QueueTriage, handler)
}

// PublishReportTriaged publishes a triage outcome under its priority.
func (c *NATSClient) PublishReportTriaged(priority string, data []byte) error {
	return c.Publish(SubjectReportTriaged+"."+priority, data)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
}
