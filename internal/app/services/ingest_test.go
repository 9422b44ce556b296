package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hookline/intake/internal/app/ports"
	"github.com/hookline/intake/internal/cache"
)

type fakeRegistry struct {
	mu       sync.Mutex
	webhooks map[string]ports.Webhook
	err      error
	lookups  int
}

func (f *fakeRegistry) GetWebhookByToken(_ context.Context, token string) (ports.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return ports.Webhook{}, f.err
	}
	webhook, ok := f.webhooks[token]
	if !ok {
		return ports.Webhook{}, sql.ErrNoRows
	}
	return webhook, nil
}

func (f *fakeRegistry) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	getErr  error
	setErr  error
	gets    int
	sets    int
}

func (f *fakeCache) GetWebhookID(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return "", f.getErr
	}
	id, ok := f.entries[token]
	if !ok {
		return "", cache.ErrMiss
	}
	return id, nil
}

func (f *fakeCache) SetWebhookID(_ context.Context, token, webhookID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	if f.entries == nil {
		f.entries = make(map[string]string)
	}
	f.entries[token] = webhookID
	return nil
}

func (f *fakeCache) entry(token string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.entries[token]
	return id, ok
}

type fakeStore struct {
	mu      sync.Mutex
	events  []ports.EventRecord
	batches int
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeStore) AppendEvent(_ context.Context, event ports.EventRecord) error {
	return f.AppendEvents(context.Background(), []ports.EventRecord{event})
}

func (f *fakeStore) AppendEvents(_ context.Context, events []ports.EventRecord) error {
	if f.block != nil {
		if f.entered != nil {
			select {
			case f.entered <- struct{}{}:
			default:
			}
		}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	f.batches++
	return nil
}

func (f *fakeStore) stored() []ports.EventRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.EventRecord, len(f.events))
	copy(out, f.events)
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	receipts []IngestReceipt
}

func (f *fakeNotifier) EventRecorded(_ context.Context, receipt IngestReceipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, receipt)
}

func newTestIngestService(registry *fakeRegistry, store *fakeStore, tokens cache.TokenCache) *WebhookIngestService {
	service := NewWebhookIngestService(registry, store, tokens)
	service.now = func() time.Time { return time.Unix(1756000000, 987654321) }
	service.newID = func() string { return "evt-fixed" }
	return service
}

func registryWith(token, id string) *fakeRegistry {
	return &fakeRegistry{webhooks: map[string]ports.Webhook{
		token: {ID: id, Token: token, Name: "hook", CreatedAt: 1},
	}}
}

func postCommand(token, body string) IngestCommand {
	return IngestCommand{
		Token:   token,
		Method:  http.MethodPost,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Query:   url.Values{},
		Body:    []byte(body),
	}
}

func TestIngestEmptyTokenTouchesNothing(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{}
	store := &fakeStore{}
	tokens := &fakeCache{}
	service := newTestIngestService(registry, store, tokens)

	_, err := service.Ingest(context.Background(), postCommand("", "{}"))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if registry.lookupCount() != 0 {
		t.Fatalf("registry must not be consulted for empty tokens, lookups=%d", registry.lookupCount())
	}
	if tokens.gets != 0 || tokens.sets != 0 {
		t.Fatalf("cache must not be touched for empty tokens: gets=%d sets=%d", tokens.gets, tokens.sets)
	}
	if len(store.stored()) != 0 {
		t.Fatal("store must not be touched for empty tokens")
	}
}

func TestIngestUnknownTokenWritesNothing(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{}
	store := &fakeStore{}
	tokens := &fakeCache{}
	service := newTestIngestService(registry, store, tokens)

	_, err := service.Ingest(context.Background(), postCommand("ghost", "{}"))
	if !errors.Is(err, ErrWebhookNotFound) {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}
	if len(store.stored()) != 0 {
		t.Fatal("no event row may be written for unknown tokens")
	}
	if _, ok := tokens.entry("ghost"); ok {
		t.Fatal("unknown tokens must not be cached")
	}
}

func TestIngestColdCacheRepopulatesAndWarmSkipsRegistry(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-1", "wh-1")
	store := &fakeStore{}
	tokens := &fakeCache{}
	service := newTestIngestService(registry, store, tokens)

	cold, err := service.Ingest(context.Background(), postCommand("tok-1", `{"n":1}`))
	if err != nil {
		t.Fatalf("cold ingest: %v", err)
	}
	if registry.lookupCount() != 1 {
		t.Fatalf("cold path should hit the registry once, lookups=%d", registry.lookupCount())
	}
	if id, ok := tokens.entry("tok-1"); !ok || id != "wh-1" {
		t.Fatalf("cache not repopulated after miss: id=%q ok=%v", id, ok)
	}

	warm, err := service.Ingest(context.Background(), postCommand("tok-1", `{"n":2}`))
	if err != nil {
		t.Fatalf("warm ingest: %v", err)
	}
	if registry.lookupCount() != 1 {
		t.Fatalf("warm path must not hit the registry again, lookups=%d", registry.lookupCount())
	}
	if cold.WebhookID != warm.WebhookID {
		t.Fatalf("hit and miss paths disagree: cold=%q warm=%q", cold.WebhookID, warm.WebhookID)
	}

	events := store.stored()
	if len(events) != 2 {
		t.Fatalf("unexpected stored count: got=%d want=2", len(events))
	}
	if events[0].WebhookID != "wh-1" || events[1].WebhookID != "wh-1" {
		t.Fatalf("rows must carry the internal id: %+v", events)
	}
}

func TestIngestLookupFailureFallsBackToRegistry(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-soft", "wh-soft")
	store := &fakeStore{}
	tokens := &fakeCache{getErr: errors.New("redis: connection refused")}
	service := newTestIngestService(registry, store, tokens)

	receipt, err := service.Ingest(context.Background(), postCommand("tok-soft", "{}"))
	if err != nil {
		t.Fatalf("cache read failure must not fail ingestion: %v", err)
	}
	if receipt.WebhookID != "wh-soft" {
		t.Fatalf("unexpected webhook id: got=%q", receipt.WebhookID)
	}
	if registry.lookupCount() != 1 {
		t.Fatalf("registry should have served the lookup, lookups=%d", registry.lookupCount())
	}
}

func TestIngestCacheWriteFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-w", "wh-w")
	store := &fakeStore{}
	tokens := &fakeCache{setErr: errors.New("redis: oom")}
	service := newTestIngestService(registry, store, tokens)

	if _, err := service.Ingest(context.Background(), postCommand("tok-w", "{}")); err != nil {
		t.Fatalf("cache write failure must not fail ingestion: %v", err)
	}
	if len(store.stored()) != 1 {
		t.Fatal("event must still be stored when the cache write fails")
	}
}

func TestIngestPostCapturesRawBody(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-b", "wh-b")
	store := &fakeStore{}
	service := newTestIngestService(registry, store, &fakeCache{})

	body := `not even json, just bytes`
	if _, err := service.Ingest(context.Background(), postCommand("tok-b", body)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	events := store.stored()
	if events[0].Payload != body {
		t.Fatalf("payload must be stored verbatim: got=%q", events[0].Payload)
	}
	if events[0].SizeBytes != int64(len(body)) {
		t.Fatalf("size must measure the raw payload: got=%d want=%d", events[0].SizeBytes, len(body))
	}
}

func TestIngestEmptyPostBodyStoresEmptyPayload(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-e", "wh-e")
	store := &fakeStore{}
	service := newTestIngestService(registry, store, &fakeCache{})

	if _, err := service.Ingest(context.Background(), postCommand("tok-e", "")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	events := store.stored()
	if events[0].Payload != "" {
		t.Fatalf("readable empty body stays empty: got=%q", events[0].Payload)
	}
	if events[0].SizeBytes != 0 {
		t.Fatalf("unexpected size: got=%d want=0", events[0].SizeBytes)
	}
}

func TestIngestGetSerializesQueryParamsLastWins(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-q", "wh-q")
	store := &fakeStore{}
	service := newTestIngestService(registry, store, &fakeCache{})

	query, err := url.ParseQuery("b=2&a=1&a=3")
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	_, err = service.Ingest(context.Background(), IngestCommand{
		Token:   "tok-q",
		Method:  http.MethodGet,
		Headers: http.Header{},
		Query:   query,
		Body:    []byte("ignored body"),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	events := store.stored()
	want := `{"a":"3","b":"2"}`
	if events[0].Payload != want {
		t.Fatalf("unexpected query payload: got=%s want=%s", events[0].Payload, want)
	}
	if events[0].SizeBytes != int64(len(want)) {
		t.Fatalf("unexpected size: got=%d want=%d", events[0].SizeBytes, len(want))
	}
}

func TestIngestGetWithoutParamsStoresEmptyObject(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-g", "wh-g")
	store := &fakeStore{}
	service := newTestIngestService(registry, store, &fakeCache{})

	_, err := service.Ingest(context.Background(), IngestCommand{
		Token:   "tok-g",
		Method:  http.MethodDelete,
		Headers: http.Header{},
		Query:   url.Values{},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if got := store.stored()[0].Payload; got != "{}" {
		t.Fatalf("unexpected payload: got=%s want={}", got)
	}
}

func TestIngestEncodesHeadersLowercaseJoined(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-h", "wh-h")
	store := &fakeStore{}
	service := newTestIngestService(registry, store, &fakeCache{})

	cmd := postCommand("tok-h", "{}")
	cmd.Headers = http.Header{
		"Content-Type": []string{"application/json"},
		"X-Multi":      []string{"a", "b"},
	}
	if _, err := service.Ingest(context.Background(), cmd); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	want := `{"content-type":"application/json","x-multi":"a, b"}`
	if got := store.stored()[0].HeadersJSON; got != want {
		t.Fatalf("unexpected headers json: got=%s want=%s", got, want)
	}
}

func TestIngestSingleTimestampSharedByRowAndReceipt(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-t", "wh-t")
	store := &fakeStore{}
	service := newTestIngestService(registry, store, &fakeCache{})

	receipt, err := service.Ingest(context.Background(), postCommand("tok-t", "{}"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if receipt.ReceivedAt != 1756000000 {
		t.Fatalf("receipt timestamp must be unix seconds: got=%d", receipt.ReceivedAt)
	}
	if row := store.stored()[0]; row.ReceivedAt != receipt.ReceivedAt {
		t.Fatalf("row and receipt must share one timestamp: row=%d receipt=%d", row.ReceivedAt, receipt.ReceivedAt)
	}
	if receipt.EventID != "evt-fixed" || store.stored()[0].EventID != "evt-fixed" {
		t.Fatal("row and receipt must share one event id")
	}
}

func TestIngestStoreFailureSurfacesAndSkipsNotifier(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-f", "wh-f")
	store := &fakeStore{err: errors.New("disk full")}
	notifier := &fakeNotifier{}
	service := newTestIngestService(registry, store, &fakeCache{})
	service.SetNotifier(notifier)

	_, err := service.Ingest(context.Background(), postCommand("tok-f", "{}"))
	if err == nil {
		t.Fatal("expected store failure to surface")
	}
	if kind := ClassifyIngestError(err); kind != IngestErrorUnknown {
		t.Fatalf("store failures classify as unknown: got=%q", kind)
	}
	if len(notifier.receipts) != 0 {
		t.Fatal("notifier must not fire for failed appends")
	}
}

func TestIngestNotifiesAfterDurableAppend(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-n", "wh-n")
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	service := newTestIngestService(registry, store, &fakeCache{})
	service.SetNotifier(notifier)

	receipt, err := service.Ingest(context.Background(), postCommand("tok-n", "{}"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(notifier.receipts) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.receipts))
	}
	if notifier.receipts[0] != receipt {
		t.Fatalf("notifier receipt mismatch: got=%+v want=%+v", notifier.receipts[0], receipt)
	}
	if notifier.receipts[0].Token != "tok-n" {
		t.Fatalf("notification must carry the public token: %+v", notifier.receipts[0])
	}
}

func TestIngestConcurrentColdCacheResolvesConsistently(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-c", "wh-c")
	store := &fakeStore{}
	tokens := &fakeCache{}
	service := newTestIngestService(registry, store, tokens)
	service.newID = func() string { return fmt.Sprintf("evt-%d", time.Now().UnixNano()) }

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	ids := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := service.Ingest(context.Background(), postCommand("tok-c", "{}"))
			errs <- err
			ids <- receipt.WebhookID
		}()
	}
	wg.Wait()
	close(errs)
	close(ids)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ingest failed: %v", err)
		}
	}
	for id := range ids {
		if id != "wh-c" {
			t.Fatalf("inconsistent resolution under contention: got=%q", id)
		}
	}
	if len(store.stored()) != workers {
		t.Fatalf("unexpected stored count: got=%d want=%d", len(store.stored()), workers)
	}
	if id, ok := tokens.entry("tok-c"); !ok || id != "wh-c" {
		t.Fatalf("cache should settle on the registry mapping: id=%q ok=%v", id, ok)
	}
}

func TestIngestBatchedAppendsFlushThroughStore(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-batch", "wh-batch")
	store := &fakeStore{}
	service := NewWebhookIngestServiceWithConfig(registry, store, &fakeCache{}, IngestBatchConfig{
		Enabled:       true,
		Size:          100,
		FlushInterval: 5 * time.Millisecond,
	})
	service.now = func() time.Time { return time.Unix(1756000000, 0) }
	service.newID = func() string { return fmt.Sprintf("evt-%d", time.Now().UnixNano()) }

	const deliveries = 5
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Ingest(context.Background(), postCommand("tok-batch", "{}"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("batched ingest failed: %v", err)
		}
	}
	if got := len(store.stored()); got != deliveries {
		t.Fatalf("unexpected stored count: got=%d want=%d", got, deliveries)
	}
}

func TestIngestBatcherSaturationReturnsBusy(t *testing.T) {
	t.Parallel()

	registry := registryWith("tok-busy", "wh-busy")
	release := make(chan struct{})
	store := &fakeStore{block: release, entered: make(chan struct{}, 1)}
	service := NewWebhookIngestServiceWithConfig(registry, store, &fakeCache{}, IngestBatchConfig{
		Enabled:       true,
		Size:          1,
		FlushInterval: time.Hour,
	})
	service.now = func() time.Time { return time.Unix(1756000000, 0) }
	service.newID = func() string { return fmt.Sprintf("evt-%d", time.Now().UnixNano()) }

	queueCap := cap(service.batcher.queue)
	var wg sync.WaitGroup
	errs := make(chan error, queueCap+1)

	// The first delivery occupies the worker inside the blocked flush.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := service.Ingest(context.Background(), postCommand("tok-busy", "{}"))
		errs <- err
	}()
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reached the store")
	}

	// The rest fill the queue behind it.
	for i := 0; i < queueCap; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Ingest(context.Background(), postCommand("tok-busy", "{}"))
			errs <- err
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(service.batcher.queue) < queueCap {
		if time.Now().After(deadline) {
			t.Fatal("queue never saturated")
		}
		time.Sleep(2 * time.Millisecond)
	}

	_, err := service.Ingest(context.Background(), postCommand("tok-busy", "{}"))
	if !errors.Is(err, ErrIngestBusy) {
		t.Fatalf("expected ErrIngestBusy at saturation, got %v", err)
	}
	if kind := ClassifyIngestError(err); kind != IngestErrorBusy {
		t.Fatalf("unexpected classification: got=%q", kind)
	}

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("queued ingest failed after release: %v", err)
		}
	}
}

func TestClassifyIngestError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want IngestErrorKind
	}{
		{nil, IngestErrorUnknown},
		{ErrInvalidToken, IngestErrorInvalidToken},
		{ErrWebhookNotFound, IngestErrorNotFound},
		{ErrIngestBusy, IngestErrorBusy},
		{errors.New("anything else"), IngestErrorUnknown},
		{fmt.Errorf("wrapped: %w", ErrWebhookNotFound), IngestErrorNotFound},
	}
	for _, tc := range cases {
		if got := ClassifyIngestError(tc.err); got != tc.want {
			t.Fatalf("classify(%v): got=%q want=%q", tc.err, got, tc.want)
		}
	}
}
