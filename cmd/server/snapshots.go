package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"citybuilder.ai/internal/persistence/archive"
	"citybuilder.ai/internal/persistence/r2s3"
	"citybuilder.ai/internal/persistence/snapshot"
)

// snapshotWriter persists exports handed off by the engine and fans the
// resulting file out to the index, the reset archive and the mirror.
type snapshotWriter struct {
	dir    string
	idx    runtimeIndex
	mirror *mirrorRuntime
	logger *log.Logger
}

func (w *snapshotWriter) run(ctx context.Context, ch <-chan snapshot.SnapshotV1) {
	for {
		select {
		case <-ctx.Done():
			// Drain what the engine already handed off.
			for {
				select {
				case snap := <-ch:
					w.write(snap)
				default:
					return
				}
			}
		case snap := <-ch:
			w.write(snap)
		}
	}
}

func (w *snapshotWriter) write(snap snapshot.SnapshotV1) string {
	path := filepath.Join(w.dir, "snapshots", snapshot.FileName(snap.Header.Day, snap.Header.Seq))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		w.printf("snapshot write: %v", err)
		return ""
	}
	w.printf("snapshot written path=%s reason=%s structures=%d", filepath.Base(path), snap.Reason, snap.Header.Structures)
	// The index row must be queued before the mirror can report on it.
	if w.idx != nil {
		w.idx.RecordSnapshot(path, snap)
	}
	w.mirror.Enqueue(r2s3.Upload{
		Path:   path,
		Kind:   r2s3.KindSnapshot,
		Seq:    snap.Header.Seq,
		Day:    snap.Header.Day,
		Reset:  snap.Counters.Resets,
		Reason: snap.Reason,
	})

	reset, archivedPath, ok, err := archive.ArchiveResetSnapshot(w.dir, path, snap)
	if err != nil {
		w.printf("archive reset snapshot: %v", err)
	} else if ok {
		if r, isResetIndex := w.idx.(resetRecorder); isResetIndex {
			r.RecordReset(reset, archivedPath, snap)
		}
		u := r2s3.Upload{Path: archivedPath, Kind: r2s3.KindArchive, Seq: snap.Header.Seq, Day: snap.Header.Day, Reset: reset, Reason: snap.Reason}
		w.mirror.Enqueue(u)
		u.Path = filepath.Join(filepath.Dir(archivedPath), "meta.json")
		enqueueIfExists(w.mirror, u)
	}
	return path
}

func (w *snapshotWriter) printf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

// latestSnapshot picks the newest snapshot by file name; names sort by day
// then sequence.
func latestSnapshot(cityDir string) string {
	dir := filepath.Join(cityDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "day") || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		if name > best {
			best = name
		}
	}
	if best == "" {
		return ""
	}
	return filepath.Join(dir, best)
}

func enqueueIfExists(m *mirrorRuntime, u r2s3.Upload) {
	if m == nil || !m.enabled {
		return
	}
	if _, err := os.Stat(u.Path); err == nil {
		m.Enqueue(u)
	}
}
