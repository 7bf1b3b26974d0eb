package crowdauth

import (
	"github.com/MrEthical07/crowdauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one authentication audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditLoginSuccess = audit.EventLoginSuccess
	AuditLoginFailure = audit.EventLoginFailure
	AuditLogout       = audit.EventLogout
	AuditAuthRenewed  = audit.EventAuthRenewed
	AuditAuthRejected = audit.EventAuthRejected
	AuditSignup       = audit.EventSignup

	AuditPasswordResetRequested = audit.EventPasswordResetRequested
	AuditPasswordResetCompleted = audit.EventPasswordResetCompleted
)

// NewZapAuditSink logs each audit event through l.
func NewZapAuditSink(l *zap.Logger) AuditSink {
	return audit.NewZapSink(l)
}

// KafkaAuditSink publishes audit events to a Kafka topic.
type KafkaAuditSink = audit.KafkaSink

// NewKafkaAuditSink publishes audit events as JSON to topic.
func NewKafkaAuditSink(brokers []string, topic string, l *zap.Logger) *KafkaAuditSink {
	return audit.NewKafkaSink(brokers, topic, l)
}

// NewChannelAuditSink buffers events in a channel, mostly for tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
