// Package journal is the durable append-only log of match events. Every
// accepted match is framed with a CRC and written here before it is handed
// to the broadcaster, so a crash between matching and publishing never
// loses a fill.
package journal

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/astriaorg/astria-sub003/domain/orderbook"
	"github.com/astriaorg/astria-sub003/infra/sequence"
)

const defaultSegmentSize = 64 << 20

type Config struct {
	Dir         string
	SegmentSize int64
}

// Journal appends framed match events to size-rotated segment files.
// Sequence numbers are assigned on append and are strictly monotonic,
// surviving restarts via replay on open.
type Journal struct {
	mu       sync.Mutex
	dir      string
	segSize  int64
	current  *segment
	segIndex int
	seq      *sequence.Sequencer
}

// Open replays any existing segments to recover the sequence counter and
// opens the journal for appending.
func Open(cfg Config) (*Journal, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = defaultSegmentSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating journal dir")
	}

	paths, err := segmentPaths(cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "listing journal segments")
	}
	lastSeq, err := Replay(cfg.Dir, func(*Record) error { return nil })
	if err != nil {
		return nil, errors.Wrap(err, "replaying journal")
	}

	segIndex := 0
	if n := len(paths); n > 0 {
		// The filename carries the rotation index; the glob position
		// does not once truncation has removed older segments.
		segIndex, err = segmentIndex(paths[n-1])
		if err != nil {
			return nil, errors.Wrap(err, "parsing journal segment name")
		}
	}
	seg, err := openSegment(cfg.Dir, segIndex)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal segment")
	}

	return &Journal{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: segIndex,
		seq:      sequence.New(lastSeq),
	}, nil
}

// Append frames and fsyncs one match event, returning its sequence number.
func (j *Journal) Append(ev orderbook.MatchEvent) (uint64, error) {
	payload, err := EncodeMatch(ev)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.seq.Next()
	payloadLen := uint32(len(payload))

	// Frame:
	// [seq:8][time:8][len:4][payload][crc:4]
	buf := make([]byte, 8+8+4+payloadLen+4)
	binary.BigEndian.PutUint64(buf[0:8], seq)
	binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint32(buf[16:20], payloadLen)
	copy(buf[20:], payload)
	binary.BigEndian.PutUint32(buf[20+payloadLen:], crcSum(buf[:20+payloadLen]))

	if err := j.current.append(buf); err != nil {
		return 0, errors.Wrap(err, "appending journal record")
	}
	if err := j.current.sync(); err != nil {
		return 0, errors.Wrap(err, "syncing journal segment")
	}

	if j.current.offset >= j.segSize {
		if err := j.rotate(); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

func (j *Journal) rotate() error {
	_ = j.current.close()
	j.segIndex++
	seg, err := openSegment(j.dir, j.segIndex)
	if err != nil {
		return errors.Wrap(err, "rotating journal segment")
	}
	j.current = seg
	return nil
}

// TruncateBefore removes whole segments whose highest sequence number is at
// or below seq. Called after the broadcaster has acknowledged a prefix.
func (j *Journal) TruncateBefore(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	paths, err := segmentPaths(j.dir)
	if err != nil {
		return errors.Wrap(err, "listing journal segments")
	}
	for _, path := range paths {
		// The index is parsed out of the filename: once older segments
		// have been deleted, a path's position in the glob no longer
		// matches its rotation index, and the open segment must never
		// be unlinked.
		idx, err := segmentIndex(path)
		if err != nil || idx == j.segIndex {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current.close()
}

// ReplayHandler receives every intact record in sequence order.
type ReplayHandler func(*Record) error

// Replay walks all segments in order and invokes fn per record, returning
// the highest sequence number seen.
func Replay(dir string, fn ReplayHandler) (uint64, error) {
	paths, err := segmentPaths(dir)
	if err != nil {
		return 0, err
	}
	seen := sequence.New(0)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return seen.Current(), err
		}
		for {
			rec, err := readRecord(f)
			if err != nil {
				if err == io.EOF {
					break
				}
				_ = f.Close()
				return seen.Current(), err
			}
			if !seen.Observe(rec.Seq) {
				_ = f.Close()
				return seen.Current(), errors.Errorf("non-monotonic seq %d", rec.Seq)
			}
			if err := fn(rec); err != nil {
				_ = f.Close()
				return seen.Current(), err
			}
		}
		_ = f.Close()
	}
	return seen.Current(), nil
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, 20)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	seq := binary.BigEndian.Uint64(header[0:8])
	ts := binary.BigEndian.Uint64(header[8:16])
	l := binary.BigEndian.Uint32(header[16:20])

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])
	if !crcValid(append(header, payload...), crc) {
		return nil, errors.New("crc mismatch")
	}
	return &Record{Seq: seq, Time: int64(ts), Data: payload}, nil
}

// maxSeqInSegment scans one segment for its highest sequence number. Used
// only for truncation decisions.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	for {
		header := make([]byte, 20)
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return max, nil
			}
			return max, err
		}
		if seq := binary.BigEndian.Uint64(header[0:8]); seq > max {
			max = seq
		}
		payloadLen := binary.BigEndian.Uint32(header[16:20])
		if _, err := f.Seek(int64(payloadLen+4), io.SeekCurrent); err != nil {
			return max, err
		}
	}
}
