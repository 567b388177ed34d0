package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"citybuilder.ai/internal/persistence/snapshot"
)

func TestArchiveResetSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "snapshots", snapshot.FileName(3, 7))
	snap := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: snapshot.Version, Seq: 7, Day: 3, Structures: 12},
		Seed:     42,
		Strategy: "ring",
		Reason:   "reset",
		Counters: snapshot.CountersV1{Resets: 1},
	}
	if err := snapshot.WriteSnapshot(snapPath, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	reset, dst, ok, err := ArchiveResetSnapshot(dir, snapPath, snap)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok || reset != 2 {
		t.Fatalf("archived=%v reset=%d", ok, reset)
	}
	if want := filepath.Join(dir, "archives", "reset_002", filepath.Base(snapPath)); dst != want {
		t.Fatalf("dst=%q want %q", dst, want)
	}
	got, err := snapshot.ReadSnapshot(dst)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if got.Header.Seq != 7 || got.Strategy != "ring" {
		t.Fatalf("unexpected archived snapshot: %+v", got.Header)
	}

	b, err := os.ReadFile(filepath.Join(dir, "archives", "reset_002", "meta.json"))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	var meta ResetArchiveMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("meta json: %v", err)
	}
	if meta.Day != 3 || meta.Structures != 12 || meta.Seed != 42 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestArchiveResetSnapshot_IgnoresOtherReasons(t *testing.T) {
	_, _, ok, err := ArchiveResetSnapshot(t.TempDir(), "/nonexistent", snapshot.SnapshotV1{Reason: "admin"})
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
