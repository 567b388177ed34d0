package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"citybuilder.ai/internal/persistence/snapshot"
	"citybuilder.ai/internal/sim/catalogs"
	"citybuilder.ai/internal/sim/engine"
	"citybuilder.ai/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable index of builds, narratives and
// snapshots. Writes are queued and applied by a single goroutine; when the
// queue is full the record is dropped and counted. The JSONL event log stays
// the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropBuild     atomic.Uint64
	dropNarrative atomic.Uint64
	dropSnapshot  atomic.Uint64
	dropReset     atomic.Uint64
	dropMirror    atomic.Uint64
	writeErrors   atomic.Uint64
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	DropBuildTotal     uint64
	DropNarrativeTotal uint64
	DropSnapshotTotal  uint64
	DropResetTotal     uint64
	DropMirrorTotal    uint64
	WriteErrorTotal    uint64
}

type reqKind int

const (
	reqBuild reqKind = iota + 1
	reqNarrative
	reqSnapshot
	reqReset
	reqMirror
)

type req struct {
	kind reqKind

	build     engine.BuildRecord
	narrative engine.NarrativeRecord
	snapshot  snapshotRow
	reset     resetRow
	mirror    mirrorRow
}

type snapshotRow struct {
	Seq        uint64
	Path       string
	Seed       int64
	Day        int
	Structures int
	Population int
	Reason     string
	SavedAt    string
}

type resetRow struct {
	Reset      uint64
	Day        int
	Structures int
	Path       string
	RecordedAt string
}

type mirrorRow struct {
	Path  string
	Key   string
	Error string
	At    string
}

// SnapshotEntry is an indexed snapshot with its mirror state.
type SnapshotEntry struct {
	Seq         uint64 `json:"seq"`
	Path        string `json:"path"`
	Day         int    `json:"day"`
	Structures  int    `json:"structures"`
	Reason      string `json:"reason"`
	SavedAt     string `json:"saved_at"`
	ObjectKey   string `json:"object_key,omitempty"`
	MirroredAt  string `json:"mirrored_at,omitempty"`
	MirrorError string `json:"mirror_error,omitempty"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS builds (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			structure_id TEXT NOT NULL,
			build_id TEXT NOT NULL,
			category TEXT NOT NULL,
			model_key TEXT NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			name TEXT NOT NULL,
			population INTEGER NOT NULL,
			reason TEXT,
			day INTEGER NOT NULL,
			built_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_category ON builds(category, day);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_pos ON builds(x, z);`,
		`CREATE TABLE IF NOT EXISTS narratives (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			day INTEGER NOT NULL,
			thought TEXT NOT NULL,
			mood TEXT NOT NULL,
			source TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER NOT NULL,
			path TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			day INTEGER NOT NULL,
			structures INTEGER NOT NULL,
			population INTEGER NOT NULL,
			reason TEXT,
			saved_at TEXT NOT NULL,
			object_key TEXT,
			mirrored_at TEXT,
			mirror_error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS resets (
			reset INTEGER PRIMARY KEY,
			day INTEGER NOT NULL,
			structures INTEGER NOT NULL,
			snapshot_path TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			object_key TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	// Databases created before mirroring was indexed lack these columns.
	for _, c := range []struct{ table, column string }{
		{"snapshots", "object_key"},
		{"snapshots", "mirrored_at"},
		{"snapshots", "mirror_error"},
		{"resets", "object_key"},
	} {
		if err := addColumnIfMissing(db, c.table, c.column); err != nil {
			return err
		}
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column string) error {
	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return err
	}
	found := false
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			def     sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &def, &pk); err != nil {
			_ = rows.Close()
			return err
		}
		if name == column {
			found = true
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil || found {
		return err
	}
	_, err = db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` TEXT`)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
		DropBuildTotal:     s.dropBuild.Load(),
		DropNarrativeTotal: s.dropNarrative.Load(),
		DropSnapshotTotal:  s.dropSnapshot.Load(),
		DropResetTotal:     s.dropReset.Load(),
		DropMirrorTotal:    s.dropMirror.Load(),
		WriteErrorTotal:    s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordBuild(r engine.BuildRecord) {
	s.enqueue(req{kind: reqBuild, build: r}, &s.dropBuild)
}

func (s *SQLiteIndex) RecordNarrative(r engine.NarrativeRecord) {
	s.enqueue(req{kind: reqNarrative, narrative: r}, &s.dropNarrative)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if path == "" {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Seq:        snap.Header.Seq,
		Path:       path,
		Seed:       snap.Seed,
		Day:        snap.Header.Day,
		Structures: snap.Header.Structures,
		Population: snap.State.Resources.Population,
		Reason:     snap.Reason,
		SavedAt:    snap.Header.SavedAt,
	}}, &s.dropSnapshot)
}

// RecordReset notes an archived pre-reset snapshot.
func (s *SQLiteIndex) RecordReset(reset uint64, archivedSnapshotPath string, snap snapshot.SnapshotV1) {
	if reset == 0 || archivedSnapshotPath == "" {
		return
	}
	s.enqueue(req{kind: reqReset, reset: resetRow{
		Reset:      reset,
		Day:        snap.Header.Day,
		Structures: snap.Header.Structures,
		Path:       archivedSnapshotPath,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}}, &s.dropReset)
}

// RecordMirror notes the outcome of mirroring localPath. A success stores the
// object key on the snapshot row and, for archived copies, on the reset row.
// A failure only records the error.
func (s *SQLiteIndex) RecordMirror(localPath, objectKey string, uploadErr error) {
	if localPath == "" {
		return
	}
	row := mirrorRow{Path: localPath, Key: objectKey, At: time.Now().UTC().Format(time.RFC3339Nano)}
	if uploadErr != nil {
		row.Key = ""
		row.Error = uploadErr.Error()
	}
	s.enqueue(req{kind: reqMirror, mirror: row}, &s.dropMirror)
}

// UpsertCatalogs stores the applied tuning and the catalog fingerprint so a
// database can be matched to the configuration that produced it.
func (s *SQLiteIndex) UpsertCatalogs(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	tb, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(tb)
	digest := catalogs.Digest()
	db, _ := json.Marshal(map[string]string{"digest": digest})
	rows := []kv{
		{name: "tuning", digest: hex.EncodeToString(sum[:]), json: tb},
		{name: "catalogs", digest: digest, json: db},
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentBuilds returns up to n committed builds, newest first.
func (s *SQLiteIndex) RecentBuilds(ctx context.Context, n int) ([]engine.BuildRecord, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT structure_id,build_id,category,model_key,x,z,name,population,COALESCE(reason,''),day,built_at
		FROM builds ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.BuildRecord
	for rows.Next() {
		var b engine.BuildRecord
		if err := rows.Scan(&b.StructureID, &b.BuildID, &b.Category, &b.ModelKey, &b.X, &b.Z, &b.Name, &b.Population, &b.Reason, &b.Day, &b.BuiltAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CategoryCounts aggregates committed builds by category.
func (s *SQLiteIndex) CategoryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM builds GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, err
		}
		out[c] = n
	}
	return out, rows.Err()
}

// Snapshots returns up to n indexed snapshots, newest first.
func (s *SQLiteIndex) Snapshots(ctx context.Context, n int) ([]SnapshotEntry, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq,path,day,structures,COALESCE(reason,''),saved_at,
		COALESCE(object_key,''),COALESCE(mirrored_at,''),COALESCE(mirror_error,'')
		FROM snapshots ORDER BY seq DESC, saved_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotEntry
	for rows.Next() {
		var e SnapshotEntry
		var seq int64
		if err := rows.Scan(&seq, &e.Path, &e.Day, &e.Structures, &e.Reason, &e.SavedAt, &e.ObjectKey, &e.MirroredAt, &e.MirrorError); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertBuild, _ := s.db.Prepare(`INSERT INTO builds(structure_id,build_id,category,model_key,x,z,name,population,reason,day,built_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertNarrative, _ := s.db.Prepare(`INSERT INTO narratives(day,thought,mood,source,at) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(seq,path,seed,day,structures,population,reason,saved_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertReset, _ := s.db.Prepare(`INSERT OR REPLACE INTO resets(reset,day,structures,snapshot_path,recorded_at) VALUES(?,?,?,?,?)`)
	mirrorOK, _ := s.db.Prepare(`UPDATE snapshots SET object_key=?, mirrored_at=?, mirror_error=NULL WHERE path=?`)
	mirrorFail, _ := s.db.Prepare(`UPDATE snapshots SET mirror_error=? WHERE path=?`)
	resetMirrored, _ := s.db.Prepare(`UPDATE resets SET object_key=? WHERE snapshot_path=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertBuild, insertNarrative, insertSnapshot, insertReset, mirrorOK, mirrorFail, resetMirrored} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		commitEvery   = 256
		commitMaxWait = 500 * time.Millisecond
	)
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
		tx = nil
		opCount = 0
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqBuild:
				b := r.build
				exec(insertBuild, b.StructureID, b.BuildID, b.Category, b.ModelKey, b.X, b.Z, b.Name, b.Population, b.Reason, b.Day, b.BuiltAt)
			case reqNarrative:
				n := r.narrative
				exec(insertNarrative, n.Day, n.Thought, n.Mood, n.Source, n.At)
			case reqSnapshot:
				sn := r.snapshot
				exec(insertSnapshot, int64(sn.Seq), sn.Path, sn.Seed, sn.Day, sn.Structures, sn.Population, sn.Reason, sn.SavedAt)
			case reqReset:
				rs := r.reset
				exec(insertReset, int64(rs.Reset), rs.Day, rs.Structures, rs.Path, rs.RecordedAt)
			case reqMirror:
				mr := r.mirror
				if mr.Error != "" {
					exec(mirrorFail, mr.Error, mr.Path)
				} else {
					exec(mirrorOK, mr.Key, mr.At, mr.Path)
					exec(resetMirrored, mr.Key, mr.Path)
				}
			}
			if opCount >= commitEvery {
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}
