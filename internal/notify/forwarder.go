// Package notify ships recorded-delivery notices to an optional CloudEvents sink.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/hookline/intake/internal/app/services"
)

const (
	eventType   = "com.hookline.intake.event.recorded"
	eventSource = "hookline/intake"
	sendTimeout = 5 * time.Second
	queueDepth  = 256
)

// recordedEvent is the CloudEvents data payload for one stored delivery.
type recordedEvent struct {
	Token      string `json:"token"`
	EventID    string `json:"event_id"`
	Method     string `json:"method"`
	SizeBytes  int64  `json:"size_bytes"`
	ReceivedAt int64  `json:"received_at"`
}

// Forwarder emits one CloudEvent per recorded delivery to a configured sink.
// Delivery is best effort and never blocks ingestion: a saturated queue drops
// the notice and logs it.
type Forwarder struct {
	client  cloudevents.Client
	sinkURL string
	queue   chan services.IngestReceipt
	done    chan struct{}
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

var _ services.Notifier = (*Forwarder)(nil)

func NewForwarder(sinkURL string) (*Forwarder, error) {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("create cloudevents client: %w", err)
	}
	f := &Forwarder{
		client:  client,
		sinkURL: sinkURL,
		queue:   make(chan services.IngestReceipt, queueDepth),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run()
	return f, nil
}

// EventRecorded enqueues a notice without blocking the caller.
func (f *Forwarder) EventRecorded(_ context.Context, receipt services.IngestReceipt) {
	select {
	case f.queue <- receipt:
	default:
		f.dropped.Add(1)
		slog.Warn("notify_queue_saturated", "dropped_total", f.dropped.Load())
	}
}

// Close stops the worker after draining already-queued notices.
func (f *Forwarder) Close() {
	f.once.Do(func() { close(f.done) })
	f.wg.Wait()
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for {
		select {
		case receipt := <-f.queue:
			f.send(receipt)
		case <-f.done:
			for {
				select {
				case receipt := <-f.queue:
					f.send(receipt)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) send(receipt services.IngestReceipt) {
	event := cloudevents.NewEvent()
	event.SetID(receipt.EventID)
	event.SetSource(eventSource)
	event.SetType(eventType)
	event.SetTime(time.Unix(receipt.ReceivedAt, 0).UTC())
	data := recordedEvent{
		Token:      receipt.Token,
		EventID:    receipt.EventID,
		Method:     receipt.Method,
		SizeBytes:  receipt.SizeBytes,
		ReceivedAt: receipt.ReceivedAt,
	}
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		slog.Error("notify_encode_failed", "event_id", receipt.EventID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	ctx = cloudevents.ContextWithTarget(ctx, f.sinkURL)
	if result := f.client.Send(ctx, event); cloudevents.IsUndelivered(result) {
		slog.Warn("notify_send_failed", "event_id", receipt.EventID, "error", result)
	}
}
