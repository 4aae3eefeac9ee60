// Package kafka publishes match events to the settlement topic. It is the
// fast path used at admission time; the broadcaster re-delivers anything
// this path fails to get acknowledged.
package kafka

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/segmentio/kafka-go"
)

// seqHeader carries the journal sequence number on every message so
// consumers can deduplicate across fast-path and broadcaster deliveries.
const seqHeader = "journal-seq"

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends one journaled match event keyed by market, so fills of the
// same market land on the same partition in order.
func (p *Producer) Publish(ctx context.Context, market string, seq uint64, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(market),
		Value:   payload,
		Headers: []kafka.Header{{Key: seqHeader, Value: encodeSeq(seq)}},
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
