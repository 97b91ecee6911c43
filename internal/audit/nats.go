package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on "<prefix>.<kind>".
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink creates a NATSSink. An empty prefix defaults to "clinledger.audit".
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "clinledger.audit"
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// Subject returns the subject an event of kind k is published on.
func (s *NATSSink) Subject(k Kind) string {
	return s.prefix + "." + string(k)
}

// Emit implements Sink.
func (s *NATSSink) Emit(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.pub.Publish(s.Subject(e.Kind), data); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// DialNATS connects to a NATS server with reconnects enabled and connection
// state changes logged.
func DialNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("clinledger"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}
