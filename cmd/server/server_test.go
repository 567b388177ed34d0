package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"citybuilder.ai/internal/persistence/indexdb"
	"citybuilder.ai/internal/persistence/r2s3"
	"citybuilder.ai/internal/persistence/snapshot"
	"citybuilder.ai/internal/sim/engine"
	"citybuilder.ai/internal/sim/tuning"
)

func newTestApp(t *testing.T, idx runtimeIndex) *httptest.Server {
	t.Helper()
	eng, err := engine.New(engine.Config{Tuning: tuning.Defaults(), Speed: 1}, engine.Deps{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	a := &app{cityID: "c1", eng: eng, idx: idx, mirror: &mirrorRuntime{}}
	srv := httptest.NewServer(a.routes(true))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func doJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestAdminEndpoints(t *testing.T) {
	srv := newTestApp(t, nil)

	var state struct {
		CityID string `json:"city_id"`
		State  struct {
			Type                string `json:"type"`
			TotalStructureCount int    `json:"total_structure_count"`
		} `json:"state"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/state", &state); code != http.StatusOK {
		t.Fatalf("state status=%d", code)
	}
	if state.CityID != "c1" || state.State.Type != "WORLD_STATE" || state.State.TotalStructureCount != 9 {
		t.Fatalf("unexpected state: %+v", state)
	}

	var decide struct {
		Category string `json:"category"`
		Reason   string `json:"reason"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/decide", &decide); code != http.StatusOK {
		t.Fatalf("decide status=%d", code)
	}
	if decide.Category != "residential" {
		t.Fatalf("decide=%+v", decide)
	}

	var reset struct {
		OK bool `json:"ok"`
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/reset", &reset); code != http.StatusOK || !reset.OK {
		t.Fatalf("reset status=%d ok=%v", code, reset.OK)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/reset", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET reset status=%d", code)
	}

	var snap struct {
		OK  bool   `json:"ok"`
		Seq uint64 `json:"seq"`
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/admin/v1/snapshot", &snap); code != http.StatusOK || !snap.OK || snap.Seq == 0 {
		t.Fatalf("snapshot status=%d body=%+v", code, snap)
	}

	if code := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/builds", nil); code != http.StatusNotImplemented {
		t.Fatalf("builds without index status=%d", code)
	}
}

func TestAdminBuilds_FromSQLiteIndex(t *testing.T) {
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "city.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	srv := newTestApp(t, idx)

	var body struct {
		Builds []engine.BuildRecord `json:"builds"`
		Counts map[string]int       `json:"counts"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/builds?limit=5", &body); code != http.StatusOK {
		t.Fatalf("builds status=%d", code)
	}
	if body.Builds == nil || len(body.Builds) != 0 {
		t.Fatalf("expected empty build list, got %+v", body.Builds)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	srv := newTestApp(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	text := string(b)
	for _, want := range []string{
		`city_structures{city="c1"} 9`,
		`city_resource_net{city="c1",resource="power"}`,
		"# TYPE city_builds_completed_total counter",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q:\n%s", want, text)
		}
	}
}

func TestAdminRequiresLoopback(t *testing.T) {
	h := loopbackOnly(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rec.Code)
	}
}

func TestSnapshotWriter_ArchivesResetAndFindsLatest(t *testing.T) {
	dir := t.TempDir()
	w := &snapshotWriter{dir: dir, mirror: &mirrorRuntime{}}

	first := w.write(snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Seq: 1, Day: 1}, Reason: "admin"})
	second := w.write(snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Seq: 2, Day: 2}, Reason: "reset"})
	if first == "" || second == "" {
		t.Fatalf("write failed")
	}
	if got := latestSnapshot(dir); got != second {
		t.Fatalf("latest=%q want %q", got, second)
	}
	archived := filepath.Join(dir, "archives", "reset_001", filepath.Base(second))
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("archive missing: %v", err)
	}

	ch := make(chan snapshot.SnapshotV1, 1)
	ch <- snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Seq: 3, Day: 2}, Reason: "shutdown"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doneCh := make(chan struct{})
	go func() {
		w.run(ctx, ch)
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not stop")
	}
	if got := latestSnapshot(dir); filepath.Base(got) != snapshot.FileName(2, 3) {
		t.Fatalf("pending snapshot not drained, latest=%q", got)
	}
}

func TestSnapshotWriter_MirrorsByCityAndRecordsObjectKeys(t *testing.T) {
	var mu sync.Mutex
	var puts []string
	s3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		puts = append(puts, strings.TrimPrefix(r.URL.Path, "/bkt/"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer s3.Close()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "index", "city.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	client, err := r2s3.New(r2s3.Config{Endpoint: s3.URL, Bucket: "bkt", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	mirror := &mirrorRuntime{enabled: true, mirror: r2s3.NewMirror(client, r2s3.MirrorOptions{
		CityID:   "c1",
		Workers:  1,
		OnResult: mirrorResultRecorder(idx),
	})}
	w := &snapshotWriter{dir: dir, idx: idx, mirror: mirror}
	w.write(snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Seq: 4, Day: 3}, Reason: "admin", Counters: snapshot.CountersV1{Resets: 1}})
	w.write(snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Seq: 5, Day: 3}, Reason: "reset", Counters: snapshot.CountersV1{Resets: 1}})
	mirror.Close()
	if err := idx.Close(); err != nil {
		t.Fatalf("close index: %v", err)
	}

	sort.Strings(puts)
	want := []string{
		"cities/c1/archives/reset_002/" + snapshot.FileName(3, 5),
		"cities/c1/archives/reset_002/meta.json",
		"cities/c1/reset_001/seq00000004-day00003.snap.zst",
		"cities/c1/reset_001/seq00000005-day00003.snap.zst",
	}
	if strings.Join(puts, ",") != strings.Join(want, ",") {
		t.Fatalf("uploaded keys=%v want %v", puts, want)
	}

	idx, err = indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	srv := newTestApp(t, idx)
	var body struct {
		Snapshots []indexdb.SnapshotEntry `json:"snapshots"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/admin/v1/snapshots", &body); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(body.Snapshots) != 2 {
		t.Fatalf("snapshots=%+v", body.Snapshots)
	}
	if got := body.Snapshots[0]; got.Seq != 5 || got.ObjectKey != want[3] || got.MirroredAt == "" {
		t.Fatalf("newest snapshot row: %+v", got)
	}
	if got := body.Snapshots[1]; got.Seq != 4 || got.ObjectKey != want[2] {
		t.Fatalf("older snapshot row: %+v", got)
	}
}
