// Package broadcaster re-delivers journaled match events whose fast-path
// publish was never acknowledged. It drains the outbox on a ticker, so a
// crash or broker outage delays settlement instead of losing fills.
package broadcaster

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/astriaorg/astria-sub003/infra/journal"
	"github.com/astriaorg/astria-sub003/infra/logging"
)

const (
	drainInterval = 250 * time.Millisecond
	resendAfter   = 5 * time.Second
)

type Broadcaster struct {
	outbox   *journal.Outbox
	jrnl     *journal.Journal
	producer sarama.SyncProducer
	topic    string
	log      *logrus.Entry
}

func New(
	outbox *journal.Outbox,
	jrnl *journal.Journal,
	brokers []string,
	topic string,
) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		outbox:   outbox,
		jrnl:     jrnl,
		producer: producer,
		topic:    topic,
		log:      logging.Module("broadcaster"),
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.Info("started")

	go func() {
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.drainOnce()
			}
		}
	}()
}

func (b *Broadcaster) drainOnce() {
	err := b.outbox.ScanPending(resendAfter, func(rec journal.OutboxRecord) error {
		// SENT is recorded before the publish attempt so a crash in
		// between resends instead of silently dropping.
		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}

		// The same sequence header the fast path stamps, so consumers
		// deduplicate redeliveries regardless of which path won.
		seqBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBuf, rec.Seq)
		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(rec.Payload),
			Headers: []sarama.RecordHeader{{
				Key:   []byte("journal-seq"),
				Value: seqBuf,
			}},
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.WithError(err).WithField("seq", rec.Seq).Warn("publish failed, will retry")
			_ = b.outbox.MarkFailed(rec.Seq)
			return nil
		}

		if err := b.outbox.MarkAcked(rec.Seq); err != nil {
			return err
		}
		return b.outbox.Delete(rec.Seq)
	})
	if err != nil {
		b.log.WithError(err).Warn("outbox drain failed")
		return
	}

	acked, err := b.outbox.AckedBefore()
	if err != nil {
		b.log.WithError(err).Warn("outbox watermark read failed")
		return
	}
	if err := b.jrnl.TruncateBefore(acked); err != nil {
		b.log.WithError(err).Warn("journal truncation failed")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
