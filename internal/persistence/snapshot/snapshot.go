package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"citybuilder.ai/internal/protocol"
)

const Version = 1

// Header is written as a plain JSON line ahead of the gob body so tools can
// peek at a file without decoding the full state.
type Header struct {
	Version    int    `json:"version"`
	Seq        uint64 `json:"seq"`
	Seed       int64  `json:"seed"`
	Day        int    `json:"day"`
	Structures int    `json:"structures"`
	SavedAt    string `json:"saved_at"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed     int64   `json:"seed"`
	Strategy string  `json:"strategy"`
	Speed    float64 `json:"speed"`
	// Reason records what triggered the export: admin, reset or shutdown.
	Reason string `json:"reason,omitempty"`

	// State is the same WORLD_STATE payload observers receive on connect.
	State protocol.WorldStateMsg `json:"state"`

	Counters CountersV1 `json:"counters"`
}

type CountersV1 struct {
	Resets     uint64 `json:"resets"`
	Dispatched uint64 `json:"dispatched"`
	Completed  uint64 `json:"completed"`
	// Events is the last event log seq, continued after import.
	Events uint64 `json:"events"`
}

// FileName is the canonical name for a snapshot taken on day with sequence seq.
func FileName(day int, seq uint64) string {
	return fmt.Sprintf("day%05d-%06d.snap.zst", day, seq)
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
