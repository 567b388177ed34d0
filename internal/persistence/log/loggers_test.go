package log

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"citybuilder.ai/internal/sim/engine"
)

func entry(seq, epoch uint64, day int) engine.EventLogEntry {
	return engine.EventLogEntry{
		Seq:     seq,
		Epoch:   epoch,
		Day:     day,
		Time:    "2026-03-04T05:06:07Z",
		Type:    "BUILD_STARTED",
		Payload: json.RawMessage(`{"build_id":"B000001"}`),
	}
}

func readAll(t *testing.T, path string) []engine.EventLogEntry {
	t.Helper()
	var out []engine.EventLogEntry
	if err := ReadSegment(path, func(e engine.EventLogEntry) error {
		out = append(out, e)
		return nil
	}); err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return out
}

func TestEventLogger_SegmentsByEpochAndDay(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	for _, e := range []engine.EventLogEntry{
		entry(1, 0, 1), entry(2, 0, 1), entry(3, 0, 2), entry(4, 1, 1), entry(5, 1, 1),
	} {
		if err := l.WriteEvent(e); err != nil {
			t.Fatalf("write %d: %v", e.Seq, err)
		}
	}
	if got, want := filepath.Base(l.CurrentSegment()), SegmentName(1, 1, 4); got != want {
		t.Fatalf("current=%s want %s", got, want)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	segs, err := ListSegments(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Segment{
		{Epoch: 0, Day: 1, FirstSeq: 1},
		{Epoch: 0, Day: 2, FirstSeq: 3},
		{Epoch: 1, Day: 1, FirstSeq: 4},
	}
	if len(segs) != len(want) {
		t.Fatalf("segments=%d want %d", len(segs), len(want))
	}
	counts := []int{2, 1, 2}
	for i, s := range segs {
		if s.Epoch != want[i].Epoch || s.Day != want[i].Day || s.FirstSeq != want[i].FirstSeq {
			t.Fatalf("segment %d = %+v want %+v", i, s, want[i])
		}
		got := readAll(t, s.Path)
		if len(got) != counts[i] || got[0].Seq != s.FirstSeq {
			t.Fatalf("segment %d: %d entries starting at %d", i, len(got), got[0].Seq)
		}
	}
}

func TestEventLogger_RejectsSeqRegression(t *testing.T) {
	l := NewEventLogger(t.TempDir())
	defer l.Close()
	if err := l.WriteEvent(entry(5, 0, 1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.WriteEvent(entry(5, 0, 2)); !errors.Is(err, ErrSeqRegression) {
		t.Fatalf("expected ErrSeqRegression, got %v", err)
	}
}

func TestEventLogger_RestartNeverAppendsToOldSegment(t *testing.T) {
	dir := t.TempDir()
	for run := 0; run < 2; run++ {
		l := NewEventLogger(dir)
		if err := l.WriteEvent(entry(1, 0, 1)); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	segs, err := ListSegments(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments=%d want 2", len(segs))
	}
	for _, s := range segs {
		if n := len(readAll(t, s.Path)); n != 1 {
			t.Fatalf("%s: %d entries", s.Path, n)
		}
	}
}

func TestParseSegmentName(t *testing.T) {
	s, ok := ParseSegmentName(SegmentName(12, 345, 6789))
	if !ok || s.Epoch != 12 || s.Day != 345 || s.FirstSeq != 6789 {
		t.Fatalf("parse: %+v ok=%v", s, ok)
	}
	if _, ok := ParseSegmentName("events-e000-d00001-000000001-1.jsonl.zst"); !ok {
		t.Fatalf("restart suffix rejected")
	}
	for _, bad := range []string{"events-2026-03-04-05.jsonl.zst", "tick-e0-d1-1.jsonl.zst", "events-e0-d1-1.json"} {
		if _, ok := ParseSegmentName(bad); ok {
			t.Fatalf("%s should not parse", bad)
		}
	}
}
