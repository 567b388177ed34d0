package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"citybuilder.ai/internal/sim/engine"
)

var ErrSeqRegression = errors.New("event seq did not increase")

// EventLogger appends outbound events to zstd-compressed JSONL segments.
// A segment holds one game day of one reset epoch and is named after its
// first seq, so file names sort in replay order. It is safe for concurrent
// use.
type EventLogger struct {
	dir string

	mu      sync.Mutex
	open    bool
	epoch   uint64
	day     int
	lastSeq uint64
	path    string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{dir: filepath.Join(dataDir, "events")}
}

// SegmentName is the file name of the segment starting at firstSeq.
func SegmentName(epoch uint64, day int, firstSeq uint64) string {
	return fmt.Sprintf("events-e%03d-d%05d-%09d.jsonl.zst", epoch, day, firstSeq)
}

// Segment identifies one event log file.
type Segment struct {
	Path     string
	Epoch    uint64
	Day      int
	FirstSeq uint64
}

// ParseSegmentName reverses SegmentName. Restart suffixes ("-1", "-2") are
// accepted and ignored.
func ParseSegmentName(name string) (Segment, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "events-") || !strings.HasSuffix(base, ".jsonl.zst") {
		return Segment{}, false
	}
	var s Segment
	core := strings.TrimSuffix(strings.TrimPrefix(base, "events-"), ".jsonl.zst")
	if _, err := fmt.Sscanf(core, "e%d-d%d-%d", &s.Epoch, &s.Day, &s.FirstSeq); err != nil {
		return Segment{}, false
	}
	s.Path = name
	return s, true
}

// ListSegments returns the segments in dir in replay order.
func ListSegments(dir string) ([]Segment, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Segment
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if s, ok := ParseSegmentName(filepath.Join(dir, e.Name())); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Epoch != b.Epoch {
			return a.Epoch < b.Epoch
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.FirstSeq != b.FirstSeq {
			return a.FirstSeq < b.FirstSeq
		}
		return a.Path < b.Path
	})
	return out, nil
}

// ReadSegment calls fn for every entry in the segment at path.
func ReadSegment(path string, fn func(engine.EventLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var entry engine.EventLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return sc.Err()
}

// WriteEvent appends e, opening a new segment when the epoch or day moves.
// Seqs must increase within a logger.
func (l *EventLogger) WriteEvent(e engine.EventLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open && e.Seq <= l.lastSeq {
		return fmt.Errorf("%w: %d after %d", ErrSeqRegression, e.Seq, l.lastSeq)
	}
	if !l.open || e.Epoch != l.epoch || e.Day != l.day {
		if err := l.rotateLocked(e); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	l.lastSeq = e.Seq
	return l.w.Flush()
}

// CurrentSegment is the path of the open segment, or "" before the first write.
func (l *EventLogger) CurrentSegment() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *EventLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *EventLogger) rotateLocked(e engine.EventLogEntry) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	// A restart without a snapshot can replay a seq range; never append to
	// a segment written by an earlier process.
	name := SegmentName(e.Epoch, e.Day, e.Seq)
	var f *os.File
	for n := 0; ; n++ {
		p := filepath.Join(l.dir, name)
		if n > 0 {
			p = filepath.Join(l.dir, strings.TrimSuffix(name, ".jsonl.zst")+fmt.Sprintf("-%d.jsonl.zst", n))
		}
		var err error
		f, err = os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			l.path = p
			break
		}
		if !errors.Is(err, os.ErrExist) || n >= 99 {
			return err
		}
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.w = bufio.NewWriterSize(enc, 128*1024)
	l.open = true
	l.epoch = e.Epoch
	l.day = e.Day
	return nil
}

func (l *EventLogger) closeLocked() error {
	var err error
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.enc != nil {
		err = l.enc.Close()
		l.enc = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.w = nil
	l.open = false
	return err
}
