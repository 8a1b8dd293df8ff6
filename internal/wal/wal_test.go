package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := l.Append(OpNodeInsert, []byte("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(OpNodeInsert, []byte("b")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var seen []string
	err = l.Replay(0, func(rec Record) error {
		seen = append(seen, string(rec.Payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected replay sequence: %v", seen)
	}
	if l.Sequence() != 3 {
		t.Fatalf("expected sequence 3 after replay, got %d", l.Sequence())
	}
}

func TestReplayTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := l.Append(OpNodeInsert, []byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(OpNodeInsert, []byte("world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-10); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	reopened, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	count := 0
	err = reopened.Replay(0, func(rec Record) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 visited record after torn tail, got %d", count)
	}
	if reopened.Sequence() != 2 {
		t.Fatalf("expected sequence 2, got %d", reopened.Sequence())
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(OpNodeInsert, []byte{byte(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var first, second []uint64
	collect := func(dst *[]uint64) Visitor {
		return func(rec Record) error {
			*dst = append(*dst, rec.Sequence)
			return nil
		}
	}
	if err := l.Replay(0, collect(&first)); err != nil {
		t.Fatalf("Replay 1: %v", err)
	}
	if err := l.Replay(0, collect(&second)); err != nil {
		t.Fatalf("Replay 2: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("replay produced different lengths: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replay sequence mismatch at %d: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestCheckpointAndDataLenCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := l.Append(OpNodeInsert, []byte("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if l.CheckpointSequence() != 2 {
		t.Fatalf("expected checkpoint sequence 2, got %d", l.CheckpointSequence())
	}

	if _, err := l.Append(OpNodeInsert, make([]byte, MaxDataLen+1)); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}
