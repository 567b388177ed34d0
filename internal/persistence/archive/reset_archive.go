package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"citybuilder.ai/internal/persistence/snapshot"
)

type ResetArchiveMeta struct {
	Reset      uint64  `json:"reset"`
	Day        int     `json:"day"`
	Structures int     `json:"structures"`
	Population int     `json:"population"`
	Seed       int64   `json:"seed"`
	Strategy   string  `json:"strategy"`
	Speed      float64 `json:"speed"`
	Snapshot   string  `json:"snapshot"`
	CreatedAt  string  `json:"created_at"`
}

// ArchiveResetSnapshot copies the snapshot taken just before a reset into
// `dataDir/archives/reset_<NNN>/`, where NNN is the reset ordinal. Snapshots
// with any other reason are ignored and archived is false.
func ArchiveResetSnapshot(dataDir, snapshotPath string, snap snapshot.SnapshotV1) (reset uint64, archivedPath string, archived bool, err error) {
	if snap.Reason != "reset" {
		return 0, "", false, nil
	}
	// The counter is read before the reset it describes is applied.
	reset = snap.Counters.Resets + 1

	archiveDir := filepath.Join(dataDir, "archives", fmt.Sprintf("reset_%03d", reset))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := ResetArchiveMeta{
		Reset:      reset,
		Day:        snap.Header.Day,
		Structures: snap.Header.Structures,
		Population: snap.State.Resources.Population,
		Seed:       snap.Seed,
		Strategy:   snap.Strategy,
		Speed:      snap.Speed,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return reset, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
