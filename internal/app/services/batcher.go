package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hookline/intake/internal/app/ports"
)

type ingestBatcher struct {
	store         ports.EventStore
	batchSize     int
	flushInterval time.Duration
	queue         chan ingestBatchRequest
	startOnce     sync.Once
	accepted      atomic.Int64
	flushBatches  atomic.Int64
	flushEvents   atomic.Int64
	flushErrors   atomic.Int64
}

type ingestBatchRequest struct {
	ctx    context.Context
	event  ports.EventRecord
	result chan error
}

func newIngestBatcher(store ports.EventStore, batchSize int, flushInterval time.Duration) *ingestBatcher {
	b := &ingestBatcher{
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		queue:         make(chan ingestBatchRequest, batchSize*8),
	}
	b.startOnce.Do(func() {
		go b.run()
	})
	return b
}

func (b *ingestBatcher) append(ctx context.Context, event ports.EventRecord) error {
	result := make(chan error, 1)
	request := ingestBatchRequest{ctx: ctx, event: event, result: result}

	select {
	case b.queue <- request:
		b.accepted.Add(1)
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrIngestBusy
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *ingestBatcher) run() {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	batch := make([]ingestBatchRequest, 0, b.batchSize)
	for {
		select {
		case request := <-b.queue:
			batch = append(batch, request)
			if len(batch) >= b.batchSize {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-statsTicker.C:
			slog.Info("ingest_batcher_stats",
				"queue_len", len(b.queue),
				"queue_cap", cap(b.queue),
				"accepted", b.accepted.Load(),
				"flush_batches", b.flushBatches.Load(),
				"flush_events", b.flushEvents.Load(),
				"flush_errors", b.flushErrors.Load(),
			)
		}
	}
}

func (b *ingestBatcher) flush(batch []ingestBatchRequest) {
	events := make([]ports.EventRecord, 0, len(batch))
	for _, item := range batch {
		events = append(events, item.event)
	}

	err := b.store.AppendEvents(context.Background(), events)
	if err != nil {
		b.flushErrors.Add(1)
		slog.Error("ingest_batch_flush_failed", "error", err, "batch_size", len(events))
	} else {
		b.flushBatches.Add(1)
		b.flushEvents.Add(int64(len(events)))
	}
	for _, item := range batch {
		item.result <- err
	}
}
