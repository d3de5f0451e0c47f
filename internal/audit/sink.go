// Package audit emits fire-and-forget audit entries for every
// state-changing operation. Emission is best-effort and never sits on
// the transaction-critical path: a publish failure is logged, not
// returned.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/kafka"
)

// Topic is the Kafka topic audit entries are published to.
const Topic = "field.audit"

// Sink records audit entries.
type Sink interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

type kafkaSink struct {
	producer kafka.Producer
	logger   *slog.Logger
}

// NewKafkaSink returns a Sink that publishes entries to the audit topic.
func NewKafkaSink(producer kafka.Producer, logger *slog.Logger) Sink {
	return &kafkaSink{producer: producer, logger: logger}
}

func (s *kafkaSink) Record(ctx context.Context, entry domain.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("marshal audit entry", slog.String("error", err.Error()))
		return
	}
	if err := s.producer.Publish(ctx, Topic, entry.EntityID, payload); err != nil {
		s.logger.Error("publish audit entry",
			slog.String("action", entry.Action),
			slog.String("entity_id", entry.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

type nopSink struct{}

// Nop returns a Sink that discards every entry.
func Nop() Sink { return nopSink{} }

func (nopSink) Record(context.Context, domain.AuditEntry) {}
