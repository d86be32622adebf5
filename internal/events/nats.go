package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "nbfix.repair"

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes JSON events to NATS subjects of the form
// <prefix>.<session_id>.transition and <prefix>.<session_id>.report.
type NATSSink struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials url and returns a sink that owns the connection.
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("nbfix"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	s := NewNATSSink(nc, prefix, logger)
	s.conn = nc
	return s, nil
}

// NewNATSSink wraps an existing publisher.
func NewNATSSink(pub Publisher, prefix string, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger}
}

// Transition implements Sink.
func (s *NATSSink) Transition(_ context.Context, t Transition) {
	if err := s.publish(s.subject(t.SessionID, "transition"), t); err != nil {
		s.logger.Warn("failed to publish transition event", zap.Error(err))
	}
}

// Report implements Sink.
func (s *NATSSink) Report(_ context.Context, r Report) {
	if err := s.publish(s.subject(r.SessionID, "report"), r); err != nil {
		s.logger.Warn("failed to publish report event", zap.Error(err))
	}
}

// Close drains the connection if the sink owns one.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

func (s *NATSSink) subject(sessionID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, sessionID, kind)
}

func (s *NATSSink) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

var _ Sink = (*NATSSink)(nil)
