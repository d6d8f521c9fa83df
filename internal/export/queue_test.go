package export

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
)

// fakeExporter replays a scripted sequence of delivery results
type fakeExporter struct {
	mu       sync.Mutex
	results  []*DeliveryResult
	calls    int
	inflight int
	maxSeen  int
}

func (f *fakeExporter) Deliver(ctx context.Context, files []ExportFile) (*DeliveryResult, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxSeen {
		f.maxSeen = f.inflight
	}
	i := f.calls
	f.calls++
	f.mu.Unlock()

	// Hold the slot briefly so overlapping deliveries would be observable
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if i < len(f.results) {
		return f.results[i], nil
	}
	return succeeded(), nil
}

func (f *fakeExporter) Echo(ctx context.Context) (*DeliveryResult, error) {
	return succeeded(), nil
}

func (f *fakeExporter) Close() error { return nil }

// fakeProvider hands out one fake exporter per destination name
type fakeProvider struct {
	mu        sync.Mutex
	exporters map[string]*fakeExporter
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{exporters: make(map[string]*fakeExporter)}
}

func (p *fakeProvider) GetExporter(dest Destination) (Exporter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.exporters[dest.Name]; ok {
		return e, nil
	}
	e := &fakeExporter{}
	p.exporters[dest.Name] = e
	return e, nil
}

func (p *fakeProvider) exporter(name string) *fakeExporter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.exporters[name]; !ok {
		p.exporters[name] = &fakeExporter{}
	}
	return p.exporters[name]
}

// noFiles stubs artifact reads so no temporary storage is needed
func noFiles() QueueOption {
	return WithFileReader(func(string) ([]byte, error) { return []byte("data"), nil })
}

func fastQueue(provider ExporterProvider) *Queue {
	return NewQueue(provider, QueueConfig{
		RetryDelays: []time.Duration{time.Millisecond, time.Millisecond},
	}, noFiles())
}

func storeRequest(id, destination string) *ScuWorkRequest {
	return &ScuWorkRequest{
		ID:            id,
		CorrelationID: "corr-1",
		Destination:   Destination{Name: destination, Type: DestinationTypeDIMSE, Host: "localhost", Port: 104},
		Operation:     OperationStore,
		Files: []models.FileStorageItem{{
			ID:   "file-" + id,
			Kind: models.FileStorageKindHL7,
			File: models.StorageObject{TemporaryPath: "/tmp/file-" + id},
		}},
	}
}

func TestQueueDeliversAndReportsSuccess(t *testing.T) {
	provider := newFakeProvider()
	q := fastQueue(provider)
	defer q.Shutdown()

	ch, err := q.Submit(context.Background(), storeRequest("r1", "pacs"))
	require.NoError(t, err)

	resp := <-ch
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, ErrorNone, resp.Error)
	assert.Equal(t, "r1", resp.RequestID)
}

func TestQueueRetriesExpectedFailures(t *testing.T) {
	provider := newFakeProvider()
	exp := provider.exporter("pacs")
	exp.results = []*DeliveryResult{
		failed(ErrorUnreachable, "connection refused"),
		failed(ErrorTimeout, "deadline exceeded"),
		succeeded(),
	}

	q := fastQueue(provider)
	defer q.Shutdown()

	ch, err := q.Submit(context.Background(), storeRequest("r1", "pacs"))
	require.NoError(t, err)

	resp := <-ch
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 3, exp.calls)
}

func TestQueueExhaustsRetriesWithSingleResponse(t *testing.T) {
	provider := newFakeProvider()
	exp := provider.exporter("pacs")
	exp.results = []*DeliveryResult{
		failed(ErrorAssociationRejected, "rejected"),
		failed(ErrorAssociationRejected, "rejected"),
		failed(ErrorAssociationRejected, "rejected"),
		failed(ErrorAssociationRejected, "rejected"),
	}

	q := fastQueue(provider)
	defer q.Shutdown()

	ch, err := q.Submit(context.Background(), storeRequest("r1", "pacs"))
	require.NoError(t, err)

	resp := <-ch
	assert.Equal(t, StatusFailure, resp.Status)
	assert.Equal(t, ErrorAssociationRejected, resp.Error)
	// Initial attempt plus one per configured delay
	assert.Equal(t, 3, exp.calls)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected second response: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueSerializesPerDestination(t *testing.T) {
	provider := newFakeProvider()
	q := fastQueue(provider)
	defer q.Shutdown()

	ctx := context.Background()
	var chans []<-chan *ScuWorkResponse
	for i := 0; i < 5; i++ {
		ch, err := q.Submit(ctx, storeRequest(fmt.Sprintf("r%d", i), "pacs"))
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		resp := <-ch
		assert.Equal(t, StatusSuccess, resp.Status)
	}

	assert.Equal(t, 1, provider.exporter("pacs").maxSeen, "deliveries to one destination must never overlap")
}

func TestQueueDestinationsProceedIndependently(t *testing.T) {
	provider := newFakeProvider()
	// The first destination is stuck retrying; the second must not wait for it
	stuck := provider.exporter("slow")
	stuck.results = []*DeliveryResult{
		failed(ErrorUnreachable, "down"),
		failed(ErrorUnreachable, "down"),
		failed(ErrorUnreachable, "down"),
	}

	q := NewQueue(provider, QueueConfig{
		RetryDelays: []time.Duration{100 * time.Millisecond, 100 * time.Millisecond},
	}, noFiles())
	defer q.Shutdown()

	ctx := context.Background()
	slowCh, err := q.Submit(ctx, storeRequest("slow-1", "slow"))
	require.NoError(t, err)
	fastCh, err := q.Submit(ctx, storeRequest("fast-1", "fast"))
	require.NoError(t, err)

	select {
	case resp := <-fastCh:
		assert.Equal(t, StatusSuccess, resp.Status)
	case <-time.After(80 * time.Millisecond):
		t.Fatal("fast destination was blocked behind the slow one")
	}

	resp := <-slowCh
	assert.Equal(t, StatusFailure, resp.Status)
}

func TestQueueRejectsRequestsAfterShutdown(t *testing.T) {
	provider := newFakeProvider()
	q := fastQueue(provider)
	q.Shutdown()

	_, err := q.Submit(context.Background(), storeRequest("r1", "pacs"))
	assert.Error(t, err)
}

func TestQueueReportsUnreadableArtifacts(t *testing.T) {
	provider := newFakeProvider()
	q := NewQueue(provider, QueueConfig{RetryDelays: []time.Duration{time.Millisecond}},
		WithFileReader(func(path string) ([]byte, error) {
			return nil, fmt.Errorf("open %s: no such file", path)
		}))
	defer q.Shutdown()

	ch, err := q.Submit(context.Background(), storeRequest("r1", "pacs"))
	require.NoError(t, err)

	resp := <-ch
	assert.Equal(t, StatusFailure, resp.Status)
	assert.Equal(t, ErrorNone, resp.Error)
	// Preparation faults never reach the transport
	assert.Equal(t, 0, provider.exporter("pacs").calls)
}
