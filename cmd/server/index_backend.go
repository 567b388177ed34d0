package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"citybuilder.ai/internal/persistence/indexdb"
	"citybuilder.ai/internal/persistence/snapshot"
	"citybuilder.ai/internal/sim/engine"
	"citybuilder.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	engine.Indexer
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	Close() error
}

// Optional capabilities; only the SQLite backend has all of them.
type (
	catalogUpserter interface {
		UpsertCatalogs(tune tuning.Tuning) error
	}
	resetRecorder interface {
		RecordReset(reset uint64, archivedSnapshotPath string, snap snapshot.SnapshotV1)
	}
	mirrorRecorder interface {
		RecordMirror(localPath, objectKey string, uploadErr error)
	}
	snapshotQuerier interface {
		Snapshots(ctx context.Context, n int) ([]indexdb.SnapshotEntry, error)
	}
	buildQuerier interface {
		RecentBuilds(ctx context.Context, n int) ([]engine.BuildRecord, error)
		CategoryCounts(ctx context.Context) (map[string]int, error)
	}
)

func openRuntimeIndex(cityDir, cityID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CITY_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(cityDir, "index", "city.sqlite")
		return indexdb.OpenSQLite(dbPath)
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("CITY_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("CITY_INDEX_BACKEND=remote but CITY_INDEX_INGEST_URL is empty")
		}
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("CITY_INDEX_TOKEN")),
			CityID:        cityID,
			BatchSize:     envInt("CITY_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("CITY_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported CITY_INDEX_BACKEND: %s", backend)
	}
}
