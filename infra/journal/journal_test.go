package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/astriaorg/astria-sub003/domain/orderbook"
)

func testEvent(id string) orderbook.MatchEvent {
	return orderbook.MatchEvent{
		ID:           id,
		Market:       "BASE/QUOTE",
		Price:        uint128.From64(100),
		Quantity:     uint128.From64(5),
		MakerOrderID: "maker",
		TakerOrderID: "taker",
		TakerSide:    orderbook.Buy,
		Time:         time.Unix(1700000000, 42),
	}
}

func TestMatchCodecRoundTrip(t *testing.T) {
	payload, err := EncodeMatch(testEvent("m1"))
	require.NoError(t, err)

	got, err := DecodeMatch(payload)
	require.NoError(t, err)
	require.Equal(t, testEvent("m1"), got)
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	j, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer j.Close()

	first, err := j.Append(testEvent("m1"))
	require.NoError(t, err)
	second, err := j.Append(testEvent("m2"))
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestReplayAfterReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	_, err = j.Append(testEvent("m1"))
	require.NoError(t, err)
	lastSeq, err := j.Append(testEvent("m2"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	var ids []string
	replayed, err := Replay(dir, func(rec *Record) error {
		ev, err := DecodeMatch(rec.Data)
		if err != nil {
			return err
		}
		ids = append(ids, ev.ID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, lastSeq, replayed)
	require.Equal(t, []string{"m1", "m2"}, ids)

	// A reopened journal continues the sequence, it does not restart it.
	j, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer j.Close()
	next, err := j.Append(testEvent("m3"))
	require.NoError(t, err)
	require.Equal(t, lastSeq+1, next)
}

func TestRotationBySegmentSize(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		_, err := j.Append(testEvent("m"))
		require.NoError(t, err)
	}

	paths, err := segmentPaths(dir)
	require.NoError(t, err)
	require.Greater(t, len(paths), 1)

	// All records survive across the rotated segments.
	count := 0
	_, err = Replay(dir, func(*Record) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestTruncateBeforeSparesCurrentSegment(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	defer j.Close()

	var lastSeq uint64
	for i := 0; i < 6; i++ {
		lastSeq, err = j.Append(testEvent("m"))
		require.NoError(t, err)
	}
	paths, err := segmentPaths(dir)
	require.NoError(t, err)
	require.Greater(t, len(paths), 2)

	// Drop the oldest segment, shifting every survivor's glob position.
	firstMax, err := maxSeqInSegment(paths[0])
	require.NoError(t, err)
	require.NoError(t, j.TruncateBefore(firstMax))

	// A second truncation after the shift must still leave the open
	// segment on disk: records appended next would otherwise be lost.
	require.NoError(t, j.TruncateBefore(lastSeq))

	paths, err = segmentPaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	idx, err := segmentIndex(paths[0])
	require.NoError(t, err)
	require.Equal(t, j.segIndex, idx)

	next, err := j.Append(testEvent("tail"))
	require.NoError(t, err)
	require.Equal(t, lastSeq+1, next)
	require.NoError(t, j.Close())

	// A restart resumes from the surviving segments' rotation index.
	j, err = Open(Config{Dir: dir, SegmentSize: 64})
	require.NoError(t, err)
	defer j.Close()
	paths, err = segmentPaths(dir)
	require.NoError(t, err)
	lastIdx, err := segmentIndex(paths[len(paths)-1])
	require.NoError(t, err)
	require.Equal(t, lastIdx, j.segIndex)
	seq, err := j.Append(testEvent("after-restart"))
	require.NoError(t, err)
	require.Equal(t, next+1, seq)
}

func TestOutboxLifecycle(t *testing.T) {
	ob, err := OpenOutbox(t.TempDir())
	require.NoError(t, err)
	defer ob.Close()

	require.NoError(t, ob.PutNew(1, []byte("one")))
	require.NoError(t, ob.PutNew(2, []byte("two")))

	var pending []uint64
	require.NoError(t, ob.ScanPending(0, func(rec OutboxRecord) error {
		pending = append(pending, rec.Seq)
		return nil
	}))
	require.Equal(t, []uint64{1, 2}, pending)

	require.NoError(t, ob.MarkSent(1))
	require.NoError(t, ob.MarkAcked(1))

	pending = nil
	require.NoError(t, ob.ScanPending(0, func(rec OutboxRecord) error {
		pending = append(pending, rec.Seq)
		return nil
	}))
	require.Equal(t, []uint64{2}, pending)

	require.NoError(t, ob.Delete(1))
	acked, err := ob.AckedBefore()
	require.NoError(t, err)
	require.Equal(t, uint64(1), acked)
}

func TestOutboxFailedEntryReturnsToPending(t *testing.T) {
	ob, err := OpenOutbox(t.TempDir())
	require.NoError(t, err)
	defer ob.Close()

	require.NoError(t, ob.PutNew(7, []byte("payload")))
	require.NoError(t, ob.MarkSent(7))
	require.NoError(t, ob.MarkFailed(7))

	rec, err := ob.Get(7)
	require.NoError(t, err)
	require.Equal(t, StateFailed, rec.State)
	require.Equal(t, uint32(2), rec.Retries)

	found := false
	require.NoError(t, ob.ScanPending(time.Hour, func(rec OutboxRecord) error {
		found = rec.Seq == 7
		return nil
	}))
	require.True(t, found)
}
