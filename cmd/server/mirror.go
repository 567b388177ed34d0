package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"citybuilder.ai/internal/persistence/r2s3"
)

type mirrorRuntime struct {
	enabled bool
	mirror  *r2s3.Mirror
}

// buildMirrorRuntime enables snapshot mirroring when CITY_SNAPSHOT_MIRROR is
// true and the CITY_S3_* variables are set. onResult may be nil.
func buildMirrorRuntime(cityID string, logger *log.Logger, onResult func(r2s3.Result)) (*mirrorRuntime, error) {
	if !envBool("CITY_SNAPSHOT_MIRROR", false) {
		return &mirrorRuntime{}, nil
	}
	cfg, ok := r2s3.ConfigFromEnv()
	if !ok || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("CITY_SNAPSHOT_MIRROR=true but CITY_S3_ENDPOINT/CITY_S3_BUCKET/CITY_S3_ACCESS_KEY_ID/CITY_S3_SECRET_ACCESS_KEY are not fully set")
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, err
	}
	m := r2s3.NewMirror(client, r2s3.MirrorOptions{
		CityID:        cityID,
		Prefix:        cfg.Prefix,
		Workers:       envInt("CITY_S3_UPLOAD_WORKERS", 2),
		QueueCapacity: 256,
		EnqueueWait:   25 * time.Millisecond,
		Logger:        logger,
		OnResult:      onResult,
	})
	return &mirrorRuntime{enabled: true, mirror: m}, nil
}

func (r *mirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *mirrorRuntime) Enqueue(u r2s3.Upload) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(u)
}

// mirrorResultRecorder feeds upload outcomes back to the index when it can
// store them.
func mirrorResultRecorder(idx runtimeIndex) func(r2s3.Result) {
	rec, ok := idx.(mirrorRecorder)
	if !ok {
		return nil
	}
	return func(r r2s3.Result) {
		rec.RecordMirror(r.Upload.Path, r.Key, r.Err)
	}
}

func (r *mirrorRuntime) Stats() (r2s3.Stats, bool) {
	if r == nil || !r.enabled || r.mirror == nil {
		return r2s3.Stats{}, false
	}
	return r.mirror.Stats(), true
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
