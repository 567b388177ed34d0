package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindArchive  Kind = "archive"
)

// Upload is one local file to mirror. Seq, Day and Reset describe the
// snapshot it belongs to; for archive files Reset is the reset ordinal.
type Upload struct {
	Path   string
	Kind   Kind
	Seq    uint64
	Day    int
	Reset  uint64
	Reason string
}

// Result reports a finished upload. Err is nil on success.
type Result struct {
	Upload Upload
	Key    string
	Err    error
}

type MirrorOptions struct {
	CityID        string
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Logger        *log.Logger
	// OnResult is called from a worker goroutine after every upload attempt.
	OnResult func(Result)
}

// Mirror uploads finished snapshot files to object storage in the background,
// keyed by city, reset epoch and snapshot seq.
type Mirror struct {
	client   *Client
	cityID   string
	prefix   string
	logger   *log.Logger
	onResult func(Result)

	jobs        chan Upload
	enqueueWait time.Duration
	wg          sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(client *Client, o MirrorOptions) *Mirror {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 2048
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 25 * time.Millisecond
	}
	city := strings.Trim(strings.TrimSpace(o.CityID), "/")
	if city == "" {
		city = "default"
	}
	m := &Mirror{
		client:      client,
		cityID:      city,
		prefix:      strings.Trim(strings.ReplaceAll(o.Prefix, "\\", "/"), "/"),
		logger:      o.Logger,
		onResult:    o.OnResult,
		jobs:        make(chan Upload, o.QueueCapacity),
		enqueueWait: o.EnqueueWait,
	}
	for i := 0; i < o.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for u := range m.jobs {
				m.uploadOne(u)
			}
		}()
	}
	return m
}

// ObjectKey maps an upload to its bucket key:
//
//	<prefix>/cities/<city>/reset_<NNN>/seq<SEQ>-day<DAY>.snap.zst
//	<prefix>/cities/<city>/archives/reset_<NNN>/<file>
func ObjectKey(prefix, cityID string, u Upload) (string, error) {
	if u.Path == "" {
		return "", fmt.Errorf("empty local path")
	}
	if cityID == "" {
		return "", fmt.Errorf("empty city id")
	}
	var rel string
	switch u.Kind {
	case KindSnapshot:
		rel = fmt.Sprintf("reset_%03d/seq%08d-day%05d.snap.zst", u.Reset, u.Seq, u.Day)
	case KindArchive:
		if u.Reset == 0 {
			return "", fmt.Errorf("archive upload without reset ordinal")
		}
		rel = fmt.Sprintf("archives/reset_%03d/%s", u.Reset, filepath.Base(u.Path))
	default:
		return "", fmt.Errorf("unknown upload kind %q", u.Kind)
	}
	return path.Join(prefix, "cities", cityID, rel), nil
}

func (m *Mirror) Enqueue(u Upload) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- u:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	// Bounded wait: the caller is the snapshot writer, not the engine loop.
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- u:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("snapshot mirror drop local=%s seq=%d reason=queue_saturated wait_ms=%d dropped_total=%d", u.Path, u.Seq, m.enqueueWait.Milliseconds(), dropped)
	}
}

func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(u Upload) {
	key, err := ObjectKey(m.prefix, m.cityID, u)
	if err == nil {
		_, err = os.Stat(u.Path)
	}
	if err == nil {
		err = m.uploadWithRetry(key, u)
	}
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("snapshot mirror upload failed key=%s local=%s err=%v", key, u.Path, err)
	} else {
		m.uploadSuccessTotal.Add(1)
		m.lastSuccessUnix.Store(time.Now().UTC().Unix())
		m.printf("snapshot mirror uploaded key=%s local=%s", key, u.Path)
	}
	if m.onResult != nil {
		m.onResult(Result{Upload: u, Key: key, Err: err})
	}
}

func (m *Mirror) uploadWithRetry(key string, u Upload) error {
	meta := map[string]string{
		"city":   m.cityID,
		"kind":   string(u.Kind),
		"seq":    strconv.FormatUint(u.Seq, 10),
		"day":    strconv.Itoa(u.Day),
		"epoch":  strconv.FormatUint(u.Reset, 10),
		"reason": u.Reason,
	}
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutFile(ctx, key, u.Path, meta)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			backoff := time.Duration(attempt*attempt) * 200 * time.Millisecond
			time.Sleep(backoff)
		}
	}
	return lastErr
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
