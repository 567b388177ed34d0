package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	persistlog "citybuilder.ai/internal/persistence/log"
	"citybuilder.ai/internal/persistence/snapshot"
	"citybuilder.ai/internal/sim/engine"
	"citybuilder.ai/internal/sim/narrative"
	"citybuilder.ai/internal/sim/tuning"
	"citybuilder.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		cityID     = flag.String("city", "city_1", "city id (data subdirectory and remote index key)")
		seed       = flag.Int64("seed", 0, "override the tuning seed (0 keeps tuning.yaml)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		speed      = flag.Float64("speed", 1, "initial simulation speed")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (builds/narratives + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to resync from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cityDir := filepath.Join(*dataDir, "cities", *cityID)
	_ = os.MkdirAll(cityDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	// Optional: read-model index backend (does not affect scheduling).
	idx, err := openRuntimeIndex(cityDir, *cityID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if up, ok := idx.(catalogUpserter); ok {
			if err := up.UpsertCatalogs(tune); err != nil {
				logger.Printf("index backend: upsert catalogs: %v", err)
			}
		}
	}

	mirror, err := buildMirrorRuntime(*cityID, logger, mirrorResultRecorder(idx))
	if err != nil {
		logger.Fatalf("init snapshot mirror: %v", err)
	}
	defer mirror.Close()

	eventLog := persistlog.NewEventLogger(cityDir)
	defer eventLog.Close()

	var gen narrative.Generator
	if o := narrative.OpenAIFromEnv(); o != nil {
		gen = o
		logger.Printf("narrative: llm generator enabled model=%s", o.Model)
	}
	advisor := narrative.New(gen, time.Duration(tune.Narrative.TimeoutMs)*time.Millisecond, logger)

	snapCh := make(chan snapshot.SnapshotV1, 4)
	deps := engine.Deps{
		Advisor:      advisor,
		EventLog:     eventLog,
		SnapshotSink: snapCh,
		Logger:       logger,
	}
	if idx != nil {
		deps.Index = idx
	}
	eng, err := engine.New(engine.Config{Tuning: tune, Speed: *speed}, deps)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(cityDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		eng.ImportSnapshot(snap)
		logger.Printf("resumed from snapshot=%s day=%d structures=%d", filepath.Base(snapshotToLoad), snap.Header.Day, snap.Header.Structures)
	}

	obs := observer.NewServer(eng, observer.Config{
		CommandsPerSecond: tune.RateLimits.CommandsPerSecond,
		CommandBurst:      tune.RateLimits.CommandBurst,
	}, logger)

	a := &app{
		cityID: *cityID,
		eng:    eng,
		obs:    obs,
		idx:    idx,
		mirror: mirror,
		logger: logger,
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           a.routes(envBool("CITY_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	writer := &snapshotWriter{dir: cityDir, idx: idx, mirror: mirror, logger: logger}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(gctx)
		// The loop has exited; exporting from here no longer races it.
		writer.write(eng.ExportSnapshot("shutdown"))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		writer.run(gctx, snapCh)
		return nil
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
	logger.Printf("stopped")
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
