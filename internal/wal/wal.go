// Package wal implements the write-ahead log: a single append-only file of
// length-prefixed, CRC-protected records used to recover in-flight writes
// after a crash.
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/anthropics/agentmemory/pkg/types"
)

// crcTable is built once at package init, satisfying the one-time-init
// requirement for the process-wide CRC32 table without an explicit
// sync.Once (see DESIGN.md).
var crcTable = crc32.MakeTable(0xEDB88320)

// OpType tags the interpretation of a record's payload.
type OpType uint32

const (
	OpNone OpType = iota
	OpNodeInsert
	OpNodeUpdate
	OpNodeDelete
	OpEmbeddingSet
	OpRelationSet
	OpIndexInsert
	OpIndexDelete
	OpSessionCreate
	OpSessionUpdate
	OpCheckpoint
	OpCommit
)

// MaxDataLen is the hard cap on a record's payload length.
const MaxDataLen = 64 << 20

const headerSize = 4 + 4 + 8 + 8 + 4 + 4 // magic, crc32, sequence, timestamp_ns, op_type, data_len

const magic uint32 = 0x57414C30 // "WAL0"

// Record is a single decoded WAL entry.
type Record struct {
	Sequence    uint64
	TimestampNs int64
	Op          OpType
	Payload     []byte
}

// Log is an append-only, length-prefixed record stream.
type Log struct {
	mu               sync.Mutex
	f                *os.File
	syncEachWrite    bool
	sequence         uint64
	checkpointSeq    uint64
	lastErr          error
}

// Open opens (creating if absent) the WAL file at path. syncEachWrite
// controls whether append fdatasyncs after every record.
func Open(path string, syncEachWrite bool) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, types.WrapError("wal.Open", types.ErrStorageIO, err)
	}
	return &Log{f: f, syncEachWrite: syncEachWrite}, nil
}

// Sequence returns the sequence number of the last record appended, or,
// right after Replay, the highest sequence seen plus one. The next Append
// is assigned this value plus one.
func (l *Log) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

// CheckpointSequence returns the sequence of the most recent checkpoint.
func (l *Log) CheckpointSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkpointSeq
}

// LastErr returns the last write error observed by this writer, for
// diagnostics only (not part of the control-flow contract, §5).
func (l *Log) LastErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Append writes a record with the given op and payload, returning its
// assigned sequence number. On a short write the in-memory sequence is not
// advanced and Write is surfaced.
func (l *Log) Append(op OpType, payload []byte) (uint64, error) {
	if len(payload) > MaxDataLen {
		return 0, types.Errorf("wal.Append", types.ErrInvalidArg, "payload %d bytes exceeds %d cap", len(payload), MaxDataLen)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.sequence + 1
	ts := time.Now().UnixNano()

	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	crc := uint32(0)
	if len(payload) > 0 {
		crc = crc32.Checksum(payload, crcTable)
	}
	binary.LittleEndian.PutUint32(buf[4:8], crc)
	binary.LittleEndian.PutUint64(buf[8:16], seq)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(ts))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(op))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	n, err := l.f.Write(buf)
	if err != nil || n != len(buf) {
		werr := types.WrapError("wal.Append", types.ErrStorageIO, err)
		l.lastErr = werr
		return 0, werr
	}

	if l.syncEachWrite {
		if err := l.f.Sync(); err != nil {
			werr := types.WrapError("wal.Append", types.ErrStorageIO, err)
			l.lastErr = werr
			return 0, werr
		}
	}

	l.sequence = seq
	if op == OpCheckpoint {
		l.checkpointSeq = seq
	}
	return seq, nil
}

// Checkpoint writes a zero-length checkpoint marker.
func (l *Log) Checkpoint() (uint64, error) {
	return l.Append(OpCheckpoint, nil)
}

// Truncate resets the log file to empty and resets in-memory sequence
// tracking.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.f.Truncate(0); err != nil {
		return types.WrapError("wal.Truncate", types.ErrStorageIO, err)
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return types.WrapError("wal.Truncate", types.ErrStorageIO, err)
	}
	l.sequence = 0
	l.checkpointSeq = 0
	return nil
}

// Sync fdatasyncs the log file.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Sync(); err != nil {
		return types.WrapError("wal.Sync", types.ErrStorageIO, err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.f.Close()
}

// Visitor is invoked for every non-checkpoint record during Replay.
type Visitor func(rec Record) error

// Replay scans the log from the start, invoking visitor on every
// non-checkpoint record whose sequence exceeds fromSeq. The scan is
// resilient: a partial header, a partial payload, a bad CRC, or a magic
// mismatch are all treated as end-of-log, not fatal — the log recovers
// cleanly from a crash mid-write. A declared payload length above
// MaxDataLen is a hard corruption (ErrWalCorrupt). After Replay returns,
// the log's in-memory sequence is set to max_seen_sequence + 1 and its
// checkpoint sequence to the highest checkpoint marker observed.
func (l *Log) Replay(fromSeq uint64, visitor Visitor) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return types.WrapError("wal.Replay", types.ErrStorageIO, err)
	}

	var maxSeen uint64
	var maxCheckpoint uint64
	header := make([]byte, headerSize)

	for {
		if _, err := io.ReadFull(l.f, header); err != nil {
			// Partial or absent header: clean end of log.
			break
		}

		gotMagic := binary.LittleEndian.Uint32(header[0:4])
		if gotMagic != magic {
			break
		}
		gotCRC := binary.LittleEndian.Uint32(header[4:8])
		seq := binary.LittleEndian.Uint64(header[8:16])
		ts := int64(binary.LittleEndian.Uint64(header[16:24]))
		op := OpType(binary.LittleEndian.Uint32(header[24:28]))
		dataLen := binary.LittleEndian.Uint32(header[28:32])

		if dataLen > MaxDataLen {
			return types.Errorf("wal.Replay", types.ErrWalCorrupt, "record at sequence %d declares %d byte payload, exceeds cap", seq, dataLen)
		}

		payload := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := io.ReadFull(l.f, payload); err != nil {
				// Torn tail: the record header landed but the payload
				// did not fully make it to disk before a crash.
				break
			}
			if crc32.Checksum(payload, crcTable) != gotCRC {
				break
			}
		}

		if seq > maxSeen {
			maxSeen = seq
		}
		if op == OpCheckpoint {
			if seq > maxCheckpoint {
				maxCheckpoint = seq
			}
			continue
		}
		if seq <= fromSeq {
			continue
		}
		if err := visitor(Record{Sequence: seq, TimestampNs: ts, Op: op, Payload: payload}); err != nil {
			return err
		}
	}

	l.sequence = maxSeen + 1
	l.checkpointSeq = maxCheckpoint
	return nil
}
