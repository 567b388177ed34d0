package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"citybuilder.ai/internal/persistence/indexdb"
	"citybuilder.ai/internal/sim/engine"
	"citybuilder.ai/internal/transport/observer"
)

type app struct {
	cityID string
	eng    *engine.Engine
	obs    *observer.Server
	idx    runtimeIndex
	mirror *mirrorRuntime
	logger *log.Logger
}

func (a *app) routes(enableAdmin bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	if enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(http.MethodGet, a.handleAdminState))
		mux.HandleFunc("/admin/v1/reset", loopbackOnly(http.MethodPost, a.handleAdminReset))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(http.MethodPost, a.handleAdminSnapshot))
		mux.HandleFunc("/admin/v1/builds", loopbackOnly(http.MethodGet, a.handleAdminBuilds))
		mux.HandleFunc("/admin/v1/snapshots", loopbackOnly(http.MethodGet, a.handleAdminSnapshots))
		mux.HandleFunc("/admin/v1/decide", loopbackOnly(http.MethodGet, a.handleAdminDecide))
	} else if a.logger != nil {
		a.logger.Printf("admin endpoints disabled (CITY_ENABLE_ADMIN_HTTP=false)")
	}
	if a.obs != nil {
		mux.HandleFunc("/v1/ws", a.obs.Handler())
	}
	return mux
}

func loopbackOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (a *app) handleAdminState(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.eng.RequestState(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"city_id": a.cityID,
		"metrics": a.eng.Metrics(),
		"state":   st,
	})
}

func (a *app) handleAdminReset(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.eng.RequestReset(ctx); err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "resets": a.eng.Metrics().ResetTotal})
}

func (a *app) handleAdminSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snap, err := a.eng.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "seq": snap.Header.Seq, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "seq": snap.Header.Seq, "day": snap.Header.Day, "structures": snap.Header.Structures})
}

func (a *app) handleAdminBuilds(rw http.ResponseWriter, r *http.Request) {
	q, ok := a.idx.(buildQuerier)
	if !ok {
		http.Error(rw, "build index not available", http.StatusNotImplemented)
		return
	}
	n := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			n = parsed
		}
	}
	builds, err := q.RecentBuilds(r.Context(), n)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	counts, err := q.CategoryCounts(r.Context())
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if builds == nil {
		builds = []engine.BuildRecord{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"builds": builds, "counts": counts})
}

func (a *app) handleAdminSnapshots(rw http.ResponseWriter, r *http.Request) {
	q, ok := a.idx.(snapshotQuerier)
	if !ok {
		http.Error(rw, "snapshot index not available", http.StatusNotImplemented)
		return
	}
	n := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			n = parsed
		}
	}
	snaps, err := q.Snapshots(r.Context(), n)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if snaps == nil {
		snaps = []indexdb.SnapshotEntry{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (a *app) handleAdminDecide(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	d, err := a.eng.RequestDecision(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"category": d.Category.String(), "reason": d.Reason, "source": d.Source})
}

// handleMetrics writes a minimal Prometheus exposition.
func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m := a.eng.Metrics()
	city := a.cityID

	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{city=%q} %v\n", name, city, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s{city=%q} %d\n", name, city, v)
	}

	gauge("city_day", "Current in-game day.", m.Day)
	gauge("city_time_of_day", "Current in-game hour (0..24).", m.TimeOfDay)
	gauge("city_morale", "City morale (0..100).", m.Morale)
	gauge("city_speed", "Simulation speed multiplier.", m.Speed)
	gauge("city_structures", "Placed structures including the baseline.", m.Structures)
	gauge("city_population", "Housed population.", m.Population)
	gauge("city_queue_depth", "Items waiting in the construction queue.", m.QueueDepth)
	gauge("city_observers", "Connected observer sessions.", m.Observers)
	gauge("city_step_ms", "Last scheduler step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))

	fmt.Fprintf(rw, "# HELP city_resource_net Net resource balance.\n")
	fmt.Fprintf(rw, "# TYPE city_resource_net gauge\n")
	fmt.Fprintf(rw, "city_resource_net{city=%q,resource=%q} %d\n", city, "power", m.NetPower)
	fmt.Fprintf(rw, "city_resource_net{city=%q,resource=%q} %d\n", city, "water", m.NetWater)
	fmt.Fprintf(rw, "city_resource_net{city=%q,resource=%q} %d\n", city, "food", m.NetFood)

	inFlight := 0
	if m.InFlight {
		inFlight = 1
	}
	gauge("city_build_in_flight", "1 while a build is dispatched and not yet completed.", inFlight)

	s := m.Scheduler
	counter("city_builds_dispatched_total", "Builds handed to the mover.", s.Dispatched)
	counter("city_builds_completed_total", "Builds placed in the world.", s.Completed)
	counter("city_queue_discarded_total", "Queued items dropped on re-validation.", s.Discarded)
	counter("city_queue_refills_total", "Queue refills.", s.Refills)
	counter("city_emergency_injections_total", "Emergency items injected.", s.Emergencies)
	counter("city_scheduler_stalls_total", "Steps that hit the refill cap.", s.Stalls)
	counter("city_duplicate_completions_total", "Ignored late or repeated completions.", s.DuplicateCompletions)
	counter("city_resets_total", "World resets.", m.ResetTotal)
	counter("city_narratives_total", "Narrative thoughts emitted.", m.NarrativeTotal)
	counter("city_narrative_fallback_total", "Narrative thoughts served from the phrase table.", m.NarrativeFallbackTotal)
	counter("city_advice_fallback_total", "Advisories that fell back to the rule engine.", m.AdviceFallbackTotal)
	counter("city_events_dropped_total", "Observer messages dropped on full queues.", m.DroppedEventsTotal)
	counter("city_commands_rejected_total", "Inbound commands rejected by the engine.", m.RejectedCommandsTotal)

	if st, ok := a.mirror.Stats(); ok {
		fmt.Fprintf(rw, "# HELP city_snapshot_mirror_queue_depth Current snapshot mirror queue depth.\n")
		fmt.Fprintf(rw, "# TYPE city_snapshot_mirror_queue_depth gauge\n")
		fmt.Fprintf(rw, "city_snapshot_mirror_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(rw, "# HELP city_snapshot_mirror_upload_total Mirror uploads by result.\n")
		fmt.Fprintf(rw, "# TYPE city_snapshot_mirror_upload_total counter\n")
		fmt.Fprintf(rw, "city_snapshot_mirror_upload_total{result=%q} %d\n", "success", st.UploadSuccessTotal)
		fmt.Fprintf(rw, "city_snapshot_mirror_upload_total{result=%q} %d\n", "fail", st.UploadFailTotal)
		fmt.Fprintf(rw, "city_snapshot_mirror_upload_total{result=%q} %d\n", "dropped", st.DroppedTotal)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
