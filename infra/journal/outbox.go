package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

type OutboxState uint8

const (
	StateNew OutboxState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s OutboxState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// OutboxRecord tracks the publish lifecycle of one journaled match event.
// The encoded match payload rides along so the broadcaster never needs to
// read the journal segments back.
type OutboxRecord struct {
	Seq         uint64
	State       OutboxState
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeOutboxRecord(r OutboxRecord) []byte {
	buf := make([]byte, 1+4+8+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[13:], r.Payload)
	return buf
}

func decodeOutboxRecord(seq uint64, b []byte) (OutboxRecord, error) {
	if len(b) < 13 {
		return OutboxRecord{}, errors.New("invalid outbox record length")
	}
	payload := make([]byte, len(b)-13)
	copy(payload, b[13:])
	return OutboxRecord{
		Seq:         seq,
		State:       OutboxState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

// Outbox is the pebble-backed publish queue the broadcaster drains. Entries
// enter as NEW when a match is journaled and leave once ACKED.
type Outbox struct {
	db *pebble.DB
}

func OpenOutbox(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening outbox")
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// PutNew enqueues a journaled match for publishing.
func (o *Outbox) PutNew(seq uint64, payload []byte) error {
	rec := OutboxRecord{Seq: seq, State: StateNew, Payload: payload}
	return errors.Wrap(
		o.db.Set(outboxKey(seq), encodeOutboxRecord(rec), pebble.Sync),
		"storing outbox entry",
	)
}

// MarkSent records a publish attempt before the broker acknowledges it.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.updateState(seq, StateSent)
}

// MarkAcked finalizes a broker-acknowledged entry.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.updateState(seq, StateAcked)
}

// MarkFailed returns an entry to the retry pool.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.updateState(seq, StateFailed)
}

func (o *Outbox) updateState(seq uint64, state OutboxState) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	if state == StateSent || state == StateFailed {
		rec.Retries++
	}
	rec.LastAttempt = time.Now().UnixNano()
	return errors.Wrap(
		o.db.Set(outboxKey(seq), encodeOutboxRecord(rec), pebble.Sync),
		"updating outbox entry",
	)
}

// Delete removes an ACKED entry.
func (o *Outbox) Delete(seq uint64) error {
	return errors.Wrap(o.db.Delete(outboxKey(seq), pebble.Sync), "deleting outbox entry")
}

func (o *Outbox) Get(seq uint64) (OutboxRecord, error) {
	val, closer, err := o.db.Get(outboxKey(seq))
	if err != nil {
		return OutboxRecord{}, errors.Wrapf(err, "reading outbox entry %d", seq)
	}
	defer closer.Close()
	return decodeOutboxRecord(seq, val)
}

// ScanPending iterates, in sequence order, every entry that still needs a
// publish attempt: NEW, FAILED, and SENT entries whose attempt predates the
// resend deadline (a SENT entry with no ack after a crash must go again).
func (o *Outbox) ScanPending(resendAfter time.Duration, fn func(OutboxRecord) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("match/"),
		UpperBound: []byte("match/~"),
	})
	if err != nil {
		return errors.Wrap(err, "opening outbox iterator")
	}
	defer iter.Close()

	now := time.Now().UnixNano()
	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseOutboxKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeOutboxRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		switch rec.State {
		case StateNew, StateFailed:
		case StateSent:
			if resendAfter <= 0 || now-rec.LastAttempt < int64(resendAfter) {
				continue
			}
		default:
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// AckedBefore returns the highest sequence such that every entry at or below
// it is ACKED or already deleted. The journal truncates up to this point.
func (o *Outbox) AckedBefore() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("match/"),
		UpperBound: []byte("match/~"),
	})
	if err != nil {
		return 0, errors.Wrap(err, "opening outbox iterator")
	}
	defer iter.Close()

	if !iter.First() {
		if err := iter.Error(); err != nil {
			return 0, err
		}
		return ^uint64(0), nil
	}
	seq, err := parseOutboxKey(iter.Key())
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, nil
	}
	return seq - 1, iter.Error()
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("match/%020d", seq))
}

func parseOutboxKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte("match/"))), "%d", &seq)
	return seq, err
}
