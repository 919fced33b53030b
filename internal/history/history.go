// Package history implements the optional, diagnostic-only register
// snapshot recorder (spec.md §9 supplement, DOMAIN-1): an append-only
// sqlite log of periodic register snapshots, written asynchronously off
// a buffered channel by a single writer goroutine — the teacher's
// internal/db + internal/collector.Storage channel-plus-background-writer
// shape, adapted to one table. It is opt-in and is never read back to
// seed the Value Store or Global Variable Table at startup.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id TEXT NOT NULL,
	ts DATETIME NOT NULL,
	address INTEGER NOT NULL,
	name TEXT NOT NULL,
	raw_words_json TEXT NOT NULL,
	logical_value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_instance_ts ON snapshots(instance_id, ts);
`

// Recorder is a best-effort, asynchronous writer of register snapshots.
// Record never blocks the caller's tick: a full queue drops the row and
// logs it, rather than stalling the update pipeline.
type Recorder struct {
	db     *sql.DB
	queue  chan row
	logger *log.Logger
	closed chan struct{}
}

type row struct {
	instanceID string
	ts         time.Time
	address    uint16
	name       string
	rawWords   []uint16
	logical    float64
}

// Open creates (or reuses) the sqlite database at path, migrates the
// snapshots table, and starts the background writer goroutine. queueSize
// bounds how many pending rows Record will buffer before dropping.
func Open(path string, queueSize int, logger *log.Logger) (*Recorder, error) {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[history] ", log.LstdFlags)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate %s: %w", path, err)
	}

	r := &Recorder{
		db:     db,
		queue:  make(chan row, queueSize),
		logger: logger,
		closed: make(chan struct{}),
	}
	go r.run()
	return r, nil
}

func (r *Recorder) run() {
	defer close(r.closed)
	for rec := range r.queue {
		if err := r.insert(rec); err != nil {
			r.logger.Printf("write snapshot for %s/%s: %v", rec.instanceID, rec.name, err)
		}
	}
}

func (r *Recorder) insert(rec row) error {
	wordsJSON, err := json.Marshal(rec.rawWords)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO snapshots(instance_id, ts, address, name, raw_words_json, logical_value) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.instanceID, rec.ts.Format(time.RFC3339Nano), rec.address, rec.name, string(wordsJSON), rec.logical,
	)
	return err
}

// Record enqueues a snapshot row. It implements pipeline.HistorySink by
// structural typing: same method name and signature, no import needed
// in either direction.
func (r *Recorder) Record(instanceID string, ts time.Time, address uint16, name string, rawWords []uint16, logical float64) {
	words := make([]uint16, len(rawWords))
	copy(words, rawWords)
	rec := row{instanceID: instanceID, ts: ts, address: address, name: name, rawWords: words, logical: logical}

	select {
	case r.queue <- rec:
	default:
		r.logger.Printf("queue full, dropping snapshot for %s/%s", instanceID, name)
	}
}

// Close drains the queue, waits for the writer goroutine to finish, and
// closes the underlying database.
func (r *Recorder) Close() error {
	close(r.queue)
	<-r.closed
	return r.db.Close()
}
