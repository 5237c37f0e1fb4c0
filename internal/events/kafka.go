// Package events publishes fills to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hakimelghazi/clob-core/internal/engine"
)

// FillEvent is the message value for one fill.
type FillEvent struct {
	Market string `json:"market"`
	engine.Fill
	Time time.Time `json:"time"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per fill, keyed by market so a market's
// fills stay on one partition in order.
type KafkaSink struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		now: time.Now,
	}
}

func (s *KafkaSink) RecordFills(ctx context.Context, market string, fills []engine.Fill) error {
	msgs, err := encodeFills(market, fills, s.now().UTC())
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events: publish %d fills: %w", len(msgs), err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func encodeFills(market string, fills []engine.Fill, at time.Time) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(fills))
	for _, f := range fills {
		b, err := json.Marshal(FillEvent{Market: market, Fill: f, Time: at})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(market), Value: b})
	}
	return msgs, nil
}

// NopSink drops fills. The server publishes to it when no brokers are
// configured.
type NopSink struct{}

func (NopSink) RecordFills(context.Context, string, []engine.Fill) error { return nil }
func (NopSink) Close() error                                             { return nil }
