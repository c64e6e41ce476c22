// Package ingest implements the asynchronous write path between the HTTP
// handlers and the log store: a bounded in-memory queue drained by a single
// writer goroutine that batches inserts and applies parsing rules before
// persistence.
//
// SQLite allows one writer at a time, so funnelling every insert through one
// goroutine turns handler-side contention into cheap channel sends. Enqueue
// never blocks: when the queue is full the entry is dropped and the caller
// reports backpressure upstream.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/parsing"
	"github.com/just-logging/just-logging/internal/safego"
	"github.com/just-logging/just-logging/internal/telemetry"
)

// ErrQueueFull is returned by Enqueue when the write queue is at capacity.
var ErrQueueFull = errors.New("ingest queue is full")

// Stats is a point-in-time snapshot of writer counters, exposed on the
// stats endpoint.
type Stats struct {
	Enqueued    uint64 `json:"enqueued"`
	Written     uint64 `json:"written"`
	Dropped     uint64 `json:"dropped"`
	WriteErrors uint64 `json:"write_errors"`
	QueueDepth  int    `json:"queue_depth"`
	QueueSize   int    `json:"queue_size"`
}

// Writer owns the ingest queue and its single writer goroutine.
type Writer struct {
	logs  *repositories.LogRepository
	rules *repositories.ParsingRuleRepository

	queue         chan *models.LogEntry
	batchSize     int
	flushInterval time.Duration

	parsingEnabled bool
	cacheRefresh   time.Duration
	engine         *parsing.Engine
	ruleCache      map[int64][]*models.ParsingRule
	ruleCacheAge   time.Time

	mu          sync.Mutex
	enqueued    uint64
	written     uint64
	dropped     uint64
	writeErrors uint64

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewWriter creates a writer. It does not start draining until Start.
func NewWriter(logs *repositories.LogRepository, rules *repositories.ParsingRuleRepository, ingestCfg config.IngestConfig, parsingCfg config.ParsingConfig) *Writer {
	queueSize := ingestCfg.QueueSize
	if queueSize <= 0 {
		queueSize = 10000
	}
	batchSize := ingestCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := ingestCfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 100 * time.Millisecond
	}
	cacheRefresh := parsingCfg.CacheRefreshInterval
	if cacheRefresh <= 0 {
		cacheRefresh = 30 * time.Second
	}

	return &Writer{
		logs:           logs,
		rules:          rules,
		queue:          make(chan *models.LogEntry, queueSize),
		batchSize:      batchSize,
		flushInterval:  flushInterval,
		parsingEnabled: parsingCfg.Enabled,
		cacheRefresh:   cacheRefresh,
		engine:         parsing.NewEngine(),
		ruleCache:      map[int64][]*models.ParsingRule{},
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Enqueue hands an entry to the writer goroutine. Never blocks: a full
// queue drops the entry and returns ErrQueueFull so the handler can report
// backpressure.
func (w *Writer) Enqueue(entry *models.LogEntry) error {
	select {
	case w.queue <- entry:
		w.mu.Lock()
		w.enqueued++
		w.mu.Unlock()
		telemetry.LogsAcceptedTotal.WithLabelValues(entry.AppName, string(entry.Level)).Inc()
		telemetry.IngestQueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		telemetry.LogsDroppedTotal.WithLabelValues(entry.AppName).Inc()
		return ErrQueueFull
	}
}

// Start launches the writer goroutine. The goroutine exits when Stop is
// called or ctx is cancelled; Stop drains the queue first, cancellation
// does not.
func (w *Writer) Start(ctx context.Context) {
	slog.Info("ingest writer started",
		"queue_size", cap(w.queue), "batch_size", w.batchSize,
		"flush_interval", w.flushInterval, "parsing_enabled", w.parsingEnabled)
	safego.Go(func() {
		defer close(w.doneChan)
		w.run(ctx)
	})
}

// Stop drains and flushes any buffered entries, then waits for the writer
// goroutine to exit or ctx to expire.
func (w *Writer) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	select {
	case <-w.doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current writer counters.
func (w *Writer) Snapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Enqueued:    w.enqueued,
		Written:     w.written,
		Dropped:     w.dropped,
		WriteErrors: w.writeErrors,
		QueueDepth:  len(w.queue),
		QueueSize:   cap(w.queue),
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.LogEntry, 0, w.batchSize)

	for {
		select {
		case entry := <-w.queue:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-w.stopChan:
			w.drain(ctx, batch)
			return
		case <-ctx.Done():
			slog.Warn("ingest writer context cancelled",
				"unwritten", len(batch)+len(w.queue))
			return
		}
	}
}

// drain empties the queue and writes everything that was buffered at
// shutdown time.
func (w *Writer) drain(ctx context.Context, batch []*models.LogEntry) {
	for {
		select {
		case entry := <-w.queue:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				w.flush(ctx, batch)
			}
			slog.Info("ingest writer drained and stopped")
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []*models.LogEntry) {
	if w.parsingEnabled {
		w.applyRules(ctx, batch)
	}

	if err := w.logs.InsertBatch(ctx, batch); err != nil {
		w.mu.Lock()
		w.writeErrors++
		w.mu.Unlock()
		slog.Error("failed to write log batch", "size", len(batch), "error", err)
		telemetry.IngestQueueDepth.Set(float64(len(w.queue)))
		return
	}

	w.mu.Lock()
	w.written += uint64(len(batch))
	w.mu.Unlock()
	telemetry.LogsWrittenTotal.Add(float64(len(batch)))
	telemetry.IngestQueueDepth.Set(float64(len(w.queue)))
}

// applyRules runs the parsing engine over the batch, refreshing the
// per-app rule cache when it has gone stale.
func (w *Writer) applyRules(ctx context.Context, batch []*models.LogEntry) {
	if time.Since(w.ruleCacheAge) >= w.cacheRefresh {
		w.ruleCache = map[int64][]*models.ParsingRule{}
		w.ruleCacheAge = time.Now()
	}

	for _, entry := range batch {
		rules, ok := w.ruleCache[entry.AppID]
		if !ok {
			loaded, err := w.rules.ListEnabledRules(ctx, entry.AppID)
			if err != nil {
				slog.Warn("failed to load parsing rules, skipping enrichment",
					"app_id", entry.AppID, "error", err)
				loaded = nil
			}
			w.ruleCache[entry.AppID] = loaded
			rules = loaded
		}
		if len(rules) > 0 {
			w.engine.Apply(rules, entry)
		}
	}
}
