package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"citybuilder.ai/internal/persistence/snapshot"
	"citybuilder.ai/internal/sim/engine"
)

// RemoteConfig configures an HTTP ingest endpoint that receives index
// records in batches, e.g. an edge function in front of a hosted database.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	CityID        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxPending bounds how many events are retained across failed flushes.
	MaxPending int
	Logger     *log.Logger
}

type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	sent    atomic.Uint64
}

type remoteEvent struct {
	Kind   string `json:"kind"`
	CityID string `json:"city_id"`
	// Payload is one of engine.BuildRecord, engine.NarrativeRecord or remoteSnapshot.
	Payload any `json:"payload"`
}

type remoteSnapshot struct {
	Seq        uint64 `json:"seq"`
	Path       string `json:"path"`
	Day        int    `json:"day"`
	Structures int    `json:"structures"`
	Reason     string `json:"reason,omitempty"`
	SavedAt    string `json:"saved_at"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.CityID = strings.TrimSpace(cfg.CityID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty index ingest endpoint")
	}
	if cfg.CityID == "" {
		return nil, fmt.Errorf("empty city id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 8 * cfg.BatchSize
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan remoteEvent, 4096),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) RecordBuild(r engine.BuildRecord) {
	d.enqueue(remoteEvent{Kind: "BUILD", Payload: r})
}

func (d *RemoteIndex) RecordNarrative(r engine.NarrativeRecord) {
	d.enqueue(remoteEvent{Kind: "NARRATIVE", Payload: r})
}

func (d *RemoteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	d.enqueue(remoteEvent{Kind: "SNAPSHOT", Payload: remoteSnapshot{
		Seq:        snap.Header.Seq,
		Path:       path,
		Day:        snap.Header.Day,
		Structures: snap.Header.Structures,
		Reason:     snap.Reason,
		SavedAt:    snap.Header.SavedAt,
	}})
}

// Stats returns events delivered and events dropped (queue full or evicted
// after repeated flush failures).
func (d *RemoteIndex) Stats() (sent, dropped uint64) {
	return d.sent.Load(), d.dropped.Load()
}

func (d *RemoteIndex) enqueue(ev remoteEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	ev.CityID = d.cfg.CityID
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		d.printf("index queue full; drop kind=%s", ev.Kind)
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		for len(pending) > 0 {
			n := len(pending)
			if n > d.cfg.BatchSize {
				n = d.cfg.BatchSize
			}
			if err := d.sendBatch(pending[:n]); err != nil {
				d.printf("index flush failed batch=%d err=%v", n, err)
				// Keep the batch for the next tick, evicting the oldest beyond the bound.
				if over := len(pending) - d.cfg.MaxPending; over > 0 {
					d.dropped.Add(uint64(over))
					pending = append(pending[:0], pending[over:]...)
				}
				return
			}
			d.sent.Add(uint64(n))
			pending = append(pending[:0], pending[n:]...)
		}
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			pending = append(pending, ev)
			if len(pending) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-city-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(20*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
