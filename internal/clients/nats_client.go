package clients

import (
	"fmt"
	"time"

	"wallet-engine/internal/config"
	"wallet-engine/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient NATS client used to publish engine events
type NATSClient struct {
	conn *nats.Conn
	log  *logrus.Logger
}

// NewNATSClient Create NATS client
func NewNATSClient(cfg config.NATSConfig, log *logrus.Logger) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	log.Infof("🔌 Using NATS timeout: %v", connectTimeout)

	conn, err := nats.Connect(cfg.URL,
		nats.Name("wallet-engine"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		metrics.NATSConnectionStatus.Set(0)
		return nil, fmt.Errorf("NATS connection failed: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	log.Infof("✅ NATS connected: %s", conn.ConnectedUrl())
	return &NATSClient{conn: conn, log: log}, nil
}

// Publish publishes data on subject
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return err
	}
	c.log.WithField("subject", subject).Debug("📨 NATS event published")
	return nil
}

// Close drains pending publishes and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
