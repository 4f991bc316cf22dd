package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/notifier"
)

// KafkaSink mirrors committed change events to a Kafka topic for downstream
// consumers. It attaches to the notifier like any other subscriber, so a slow
// or unreachable broker can never back-pressure the ledger: the notifier
// drops events for it and flags a resync like for everyone else.
type KafkaSink struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

func NewKafkaSink(logger *zap.Logger, brokers []string, topic string) *KafkaSink {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaSink{logger: logger, writer: writer, topic: topic}
}

// Run drains the delivery handle until the context ends or the handle is
// detached. Publish failures are logged and the event is dropped; downstream
// consumers detect the gap from the sequence numbers.
func (s *KafkaSink) Run(ctx context.Context, handle *notifier.DeliveryHandle) {
	resync := handle.Resync()
	for {
		select {
		case <-ctx.Done():
			return
		case <-resync:
			s.logger.Warn("kafka sink fell behind, events were dropped",
				zap.String("topic", s.topic))
			resync = nil
		case ev, ok := <-handle.Events():
			if !ok {
				return
			}
			s.publish(ctx, ev)
		}
	}
}

func (s *KafkaSink) publish(ctx context.Context, ev domain.ChangeEvent) {
	payload := map[string]interface{}{
		"product_id":  ev.ProductID,
		"name":        ev.Name,
		"stock":       ev.Stock,
		"delta":       ev.Delta,
		"cause":       ev.Cause,
		"sequence":    ev.Sequence,
		"occurred_at": ev.Timestamp.Format(time.RFC3339Nano),
	}
	value, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal change event",
			zap.Error(err),
			zap.String("product_id", ev.ProductID),
		)
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.ProductID),
		Value: value,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("failed to publish change event",
			zap.Error(err),
			zap.String("topic", s.topic),
			zap.String("product_id", ev.ProductID),
			zap.Uint64("sequence", ev.Sequence),
		)
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
