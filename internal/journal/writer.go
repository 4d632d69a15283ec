package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DB is the subset of *pgxpool.Pool used by the Writer.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultWriterConfig returns the default batch writer settings.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Metrics counts writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64 // entries rejected because the queue was full
}

// Entry is one received event.
type Entry struct {
	Tournament string
	SessionID  uuid.UUID
	EventType  string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

type eventRow struct {
	EventID    uuid.UUID
	InstanceID string
	Tournament string
	SessionID  *uuid.UUID
	EventType  string
	Payload    []byte
	ReceivedAt int64 // µs since epoch
}

// Writer batches entries into the tournament_events table.
type Writer struct {
	cfg        WriterConfig
	instanceID string
	logger     *slog.Logger

	// Input
	input chan Entry

	// Database
	db DB

	// Batching
	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	flushCtx context.Context // outlives cancel so in-flight batches finish
	wg       sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewWriter creates a new Writer.
func NewWriter(cfg WriterConfig, instanceID string, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Writer{
		cfg:        cfg,
		instanceID: instanceID,
		db:         db,
		logger:     logger,
		input:      make(chan Entry, cfg.BufferSize),
		batch:      make([]eventRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming entries and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushCtx = context.WithoutCancel(w.ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued entries, performs a final flush and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Entries still queued are written with the stop context.
	for drained := false; !drained; {
		select {
		case e := <-w.input:
			w.add(w.transform(e))
		default:
			drained = true
		}
	}
	w.flush(ctx)

	w.logger.Info("journal writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Record queues e without blocking. It returns false if the queue is full.
func (w *Writer) Record(e Entry) bool {
	select {
	case w.input <- e:
		return true
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		return false
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case e := <-w.input:
			w.handleEntry(e)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.flushCtx)
		}
	}
}

// handleEntry transforms and adds an entry to the batch.
func (w *Writer) handleEntry(e Entry) {
	if w.add(w.transform(e)) {
		w.flush(w.flushCtx)
	}
}

// add appends row and reports whether the batch is full.
func (w *Writer) add(row eventRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts an Entry to an eventRow.
func (w *Writer) transform(e Entry) eventRow {
	row := eventRow{
		EventID:    uuid.New(),
		InstanceID: w.instanceID,
		Tournament: e.Tournament,
		EventType:  e.EventType,
		ReceivedAt: e.ReceivedAt.UnixMicro(),
	}
	if e.SessionID != uuid.Nil {
		id := e.SessionID
		row.SessionID = &id
	}
	// JSONB rejects invalid documents; an empty payload is stored as NULL.
	if len(e.Payload) > 0 && json.Valid(e.Payload) {
		row.Payload = e.Payload
	}
	return row
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO tournament_events (event_id, instance_id, tournament, session_id, event_type, payload, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO NOTHING
		`, r.EventID, r.InstanceID, r.Tournament, r.SessionID, r.EventType, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
