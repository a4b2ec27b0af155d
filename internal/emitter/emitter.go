// Package emitter fans decision-pipeline records out to partitioned,
// append-only JSONL log streams. In async mode (the DefaultConfig
// setting) one goroutine per stream owns that stream's writes and
// rotation, and producers only push onto a buffered channel; in sync
// mode Emit writes on the caller's goroutine.
package emitter

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Streams lists every stream name the engine writes, mirroring the
// reference emitter's per-concern log types plus the additional streams
// this engine's domain model introduces (sizing/health/overlay/kpi/
// bandit/hyperliquid).
var Streams = []string{
	"market_ingest_log",
	"signals",
	"ensemble_log",
	"calibration_log",
	"order_intent",
	"execution",
	"costs_log",
	"pnl_equity_log",
	"sizing_risk_log",
	"health",
	"feature_log",
	"overlay_status",
	"kpi_scorecard",
	"bandit",
	"alerts",
	"repro",
	"hyperliquid",
}

// mandatoryKeys are the envelope fields every record carries and that
// the field-count/byte-size caps never trim.
var mandatoryKeys = map[string]bool{
	"ts_ist":            true,
	"bar_id":            true,
	"asset":             true,
	"schema_v":          true,
	"run_id":            true,
	"_emitter_metadata": true,
}

const (
	maxFields = 32
	maxBytes  = 1500
)

// Config tunes rotation, channel buffering, sampling, and the
// async-batch-vs-sync-retry write strategy.
type Config struct {
	BaseDir string
	// Asset is stamped into every record's envelope and into the
	// {root}/{stream}/date=.../asset={Asset}/ partition path. The engine
	// runs one Emitter per traded symbol, so this is fixed for the
	// Emitter's lifetime rather than threaded per-record.
	Asset         string
	SchemaVersion string

	MaxFileBytes  int64
	MaxFiles      int
	ChannelBuffer int

	// SamplingRate in (0,1] is the per-record write probability; 1.0
	// disables sampling. Sampled-out records are not written but are
	// counted (SampledOutCount) for the health/alerts path.
	SamplingRate float64

	// Async, when true (the default), queues records onto a per-stream
	// channel and drains them in batches of BatchSize or every
	// FlushInterval, whichever comes first. When false, every record is
	// written synchronously with retry (RetryAttempts, RetryDelay);
	// exhausted retries demote the record to {root}/errors/.
	Async         bool
	BatchSize     int
	FlushInterval time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	// Compress gzips each rotation's .jsonl into .jsonl.gz. Every batch
	// is written as its own gzip member, which is valid per RFC 1952's
	// multistream concatenation and readable by any stock gzip reader.
	Compress bool
}

// DefaultConfig matches the reference emitter's 100MB/10-file rotation
// policy, no sampling, and a 100-record/5s async batch flush, with a
// channel buffer sized for a burst of a few seconds of per-bar records
// across all timeframes.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:       baseDir,
		SchemaVersion: "1.0.0",
		MaxFileBytes:  100 * 1024 * 1024,
		MaxFiles:      10,
		ChannelBuffer: 10000,
		SamplingRate:  1.0,
		Async:         true,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

type streamWorker struct {
	name       string
	ch         chan map[string]any
	dropped    int64
	sampled    int64
	mu         sync.Mutex
	currentSz  int64
	currentDay string
}

// Emitter owns one buffered channel and writer goroutine per stream. It
// is constructed once at process startup and threaded down explicitly
// through the driver, replacing the teacher's global mutable emitter
// singleton per spec.md §9's redesign note.
type Emitter struct {
	cfg     Config
	runID   string
	workers map[string]*streamWorker
	wg      sync.WaitGroup
	done    chan struct{}
}

// New constructs an Emitter with a worker goroutine running per stream in
// Streams (skipped when cfg.Async is false, since writes then happen
// synchronously on the caller's goroutine). Call Close to flush and stop
// all workers.
func New(cfg Config) *Emitter {
	if cfg.SamplingRate <= 0 {
		cfg.SamplingRate = 1.0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "1.0.0"
	}

	e := &Emitter{
		cfg:     cfg,
		runID:   uuid.New().String(),
		workers: make(map[string]*streamWorker),
		done:    make(chan struct{}),
	}
	for _, name := range Streams {
		w := &streamWorker{name: name, ch: make(chan map[string]any, cfg.ChannelBuffer)}
		e.workers[name] = w
		if cfg.Async {
			e.wg.Add(1)
			go e.run(w)
		}
	}
	return e
}

// Emit stamps record with the mandatory envelope (ts_ist, bar_id, asset,
// schema_v, run_id), applies the field-count/byte-size caps, and routes
// it to stream. barID identifies the closed bar the record belongs to.
// A sampled-out record is counted and dropped before it is ever
// written. In async mode a full channel drops the record rather than
// blocking the caller (the driver goroutine must never stall on I/O)
// and increments that stream's drop counter; in sync mode the record is
// written with retry and demoted to the errors/ stream on exhaustion.
func (e *Emitter) Emit(stream string, barID int64, record map[string]any) {
	w, ok := e.workers[stream]
	if !ok {
		log.Warn().Str("stream", stream).Msg("emitter: unknown stream, dropping record")
		return
	}
	if !e.shouldSample() {
		w.mu.Lock()
		w.sampled++
		w.mu.Unlock()
		return
	}

	stamped := capRecord(e.stampRecord(record, stream, barID))

	if !e.cfg.Async {
		if err := e.writeWithRetry(w, stamped); err != nil {
			e.writeErrorLog(w.name, stamped, err)
		}
		return
	}

	select {
	case w.ch <- stamped:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

func (e *Emitter) shouldSample() bool {
	if e.cfg.SamplingRate >= 1.0 {
		return true
	}
	return rand.Float64() < e.cfg.SamplingRate
}

// DroppedCount reports how many records a stream has soft-dropped since
// startup, for surfacing on the health/alerts path.
func (e *Emitter) DroppedCount(stream string) int64 {
	w, ok := e.workers[stream]
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// SampledOutCount reports how many records a stream has sampled out
// (never written) since startup.
func (e *Emitter) SampledOutCount(stream string) int64 {
	w, ok := e.workers[stream]
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sampled
}

// Close signals all async workers to drain their remaining batch and
// stop, then waits for them. A sync-mode Emitter has no workers to
// drain since every Emit call already wrote synchronously.
func (e *Emitter) Close() {
	close(e.done)
	if !e.cfg.Async {
		return
	}
	for _, w := range e.workers {
		close(w.ch)
	}
	e.wg.Wait()
}

func (e *Emitter) stampRecord(record map[string]any, stream string, barID int64) map[string]any {
	out := make(map[string]any, len(record)+6)
	for k, v := range record {
		out[k] = v
	}
	if _, ok := out["ts_ist"]; !ok {
		out["ts_ist"] = istNow().Format(time.RFC3339Nano)
	}
	out["bar_id"] = barID
	out["asset"] = e.cfg.Asset
	out["schema_v"] = e.cfg.SchemaVersion
	out["run_id"] = e.runID
	out["_emitter_metadata"] = map[string]any{
		"stream":         stream,
		"emitted_at_utc": time.Now().UTC().Format(time.RFC3339Nano),
	}
	return out
}

// capRecord enforces the ≤32-field and ≤1500-byte envelope caps,
// best-effort trimming the bulkiest optional (non-mandatory) keys first
// until both caps are met or only mandatory keys remain.
func capRecord(record map[string]any) map[string]any {
	trimFieldCount(record)
	trimByteSize(record)
	return record
}

func optionalKeys(record map[string]any) []string {
	keys := make([]string, 0, len(record))
	for k := range record {
		if !mandatoryKeys[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

func trimFieldCount(record map[string]any) {
	if len(record) <= maxFields {
		return
	}
	optional := optionalKeys(record)
	sort.Strings(optional)
	for _, k := range optional {
		if len(record) <= maxFields {
			return
		}
		delete(record, k)
	}
}

func trimByteSize(record map[string]any) {
	line, err := json.Marshal(record)
	if err != nil || len(line) <= maxBytes {
		return
	}
	optional := optionalKeys(record)
	sort.Slice(optional, func(i, j int) bool {
		return fieldSize(record[optional[i]]) > fieldSize(record[optional[j]])
	})
	for _, k := range optional {
		delete(record, k)
		line, err = json.Marshal(record)
		if err == nil && len(line) <= maxBytes {
			return
		}
	}
}

func fieldSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

var istOffset = 5*time.Hour + 30*time.Minute

func istNow() time.Time {
	return time.Now().UTC().Add(istOffset)
}

// run drains w's channel into batches of up to cfg.BatchSize, flushing
// early if cfg.FlushInterval elapses with a partial batch pending,
// mirroring the reference emitter's "batch_size records or timeout"
// background writer loop.
func (e *Emitter) run(w *streamWorker) {
	defer e.wg.Done()

	batch := make([]map[string]any, 0, e.cfg.BatchSize)
	timer := time.NewTimer(e.cfg.FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		e.writeBatch(w, batch)
		batch = batch[:0]
	}

	for {
		select {
		case record, ok := <-w.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= e.cfg.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(e.cfg.FlushInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(e.cfg.FlushInterval)
		}
	}
}

// writeBatch writes an entire batch as one append; if that fails (e.g.
// a transient filesystem error), it falls back to retrying each record
// individually so one bad record doesn't sink its batch-mates.
func (e *Emitter) writeBatch(w *streamWorker, batch []map[string]any) {
	if err := e.tryWriteBatch(w, batch); err != nil {
		log.Error().Err(err).Str("stream", w.name).Int("records", len(batch)).
			Msg("emitter: batch write failed, retrying records individually")
		for _, record := range batch {
			if err := e.writeWithRetry(w, record); err != nil {
				e.writeErrorLog(w.name, record, err)
			}
		}
	}
}

func (e *Emitter) tryWriteBatch(w *streamWorker, batch []map[string]any) error {
	var buf bytes.Buffer
	for _, record := range batch {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return e.appendLocked(w, buf.Bytes())
}

// writeWithRetry appends a single record with exponential backoff, used
// both for sync-mode Emit calls and as the per-record fallback when a
// batch write fails.
func (e *Emitter) writeWithRetry(w *streamWorker, record map[string]any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	var lastErr error
	for attempt := 0; attempt < e.cfg.RetryAttempts; attempt++ {
		w.mu.Lock()
		lastErr = e.appendLocked(w, line)
		w.mu.Unlock()
		if lastErr == nil {
			return nil
		}
		if attempt < e.cfg.RetryAttempts-1 {
			time.Sleep(e.cfg.RetryDelay * time.Duration(1<<attempt))
		}
	}
	return lastErr
}

// writeErrorLog demotes a record that exhausted its retries to
// {root}/errors/{stream}_errors.jsonl, matching the reference emitter's
// error-stream fallback.
func (e *Emitter) writeErrorLog(stream string, record map[string]any, writeErr error) {
	errDir := filepath.Join(e.cfg.BaseDir, "errors")
	if err := os.MkdirAll(errDir, 0755); err != nil {
		log.Error().Err(err).Msg("emitter: failed to create errors directory")
		return
	}
	errRecord := map[string]any{
		"ts_ist":          istNow().Format(time.RFC3339Nano),
		"stream":          stream,
		"original_record": record,
		"error":           writeErr.Error(),
	}
	line, err := json.Marshal(errRecord)
	if err != nil {
		log.Error().Err(err).Msg("emitter: failed to marshal error record")
		return
	}
	line = append(line, '\n')

	path := filepath.Join(errDir, stream+"_errors.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Error().Err(err).Msg("emitter: failed to open errors log")
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		log.Error().Err(err).Msg("emitter: failed to write errors log")
	}
}

// appendLocked writes data (one or more already-newline-terminated
// JSON lines) to stream's current partition file, rotating first if the
// tracked size has crossed MaxFileBytes. Callers must hold w.mu.
func (e *Emitter) appendLocked(w *streamWorker, data []byte) error {
	path, day := e.currentPath(w.name)
	if day != w.currentDay {
		w.currentDay = day
		w.currentSz = 0
		if info, err := os.Stat(path); err == nil {
			w.currentSz = info.Size()
		}
	}

	if w.currentSz >= e.cfg.MaxFileBytes {
		if err := e.rotate(w.name, path); err != nil {
			log.Error().Err(err).Str("stream", w.name).Msg("emitter: rotation failed")
		}
		w.currentSz = 0
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if e.cfg.Compress {
		// Each append is its own gzip member; concatenated gzip members
		// form a valid stream per RFC 1952 and decode transparently with
		// any stock multistream-aware reader (including Go's gzip.Reader).
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(data); err != nil {
			gz.Close()
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}
	} else if _, err := f.Write(data); err != nil {
		return err
	}

	if info, err := f.Stat(); err == nil {
		w.currentSz = info.Size()
	} else {
		w.currentSz += int64(len(data))
	}
	return nil
}

// currentPath returns stream's partition path,
// {BaseDir}/{stream}/date=YYYY-MM-DD/asset={Asset}/{stream}.jsonl[.gz],
// and the IST calendar day it lives under — a pure function of the
// emitter's fixed asset and the current IST time, satisfying the
// partition-path invariant for any record's (ts_ist, asset, stream).
func (e *Emitter) currentPath(stream string) (path string, day string) {
	day = istNow().Format("2006-01-02")
	dir := filepath.Join(e.cfg.BaseDir, stream, fmt.Sprintf("date=%s", day), fmt.Sprintf("asset=%s", e.cfg.Asset))
	return filepath.Join(dir, stream+e.fileExt()), day
}

func (e *Emitter) fileExt() string {
	if e.cfg.Compress {
		return ".jsonl.gz"
	}
	return ".jsonl"
}

func (e *Emitter) rotate(stream, path string) error {
	ts := istNow().Format("20060102_150405")
	ext := e.fileExt()
	base := strings.TrimSuffix(path, ext)
	rotated := fmt.Sprintf("%s_%s%s", base, ts, ext)
	if err := os.Rename(path, rotated); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return e.cleanupOldFiles(stream, filepath.Dir(path))
}

func (e *Emitter) cleanupOldFiles(stream, dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, stream+"_*"+e.fileExt()))
	if err != nil {
		return err
	}
	if len(matches) <= e.cfg.MaxFiles {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	for _, old := range matches[e.cfg.MaxFiles:] {
		if err := os.Remove(old); err != nil {
			log.Warn().Err(err).Str("file", old).Msg("emitter: failed to clean up rotated file")
		}
	}
	return nil
}
