package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

func newItem(id string) models.FileStorageItem {
	return models.FileStorageItem{
		ID:            id,
		CorrelationID: "corr-" + id,
		Kind:          models.FileStorageKindDicom,
		Service:       models.ServiceTypeDIMSE,
		Dicom: &models.DicomStorageInfo{
			StudyInstanceUID: "1.2.3",
			SOPInstanceUID:   "1.2.3." + id,
		},
	}
}

func dicomOrigin() models.DataOrigin {
	return models.DataOrigin{Source: "pacs", Service: models.ServiceTypeDIMSE}
}

func waitFlushed(t *testing.T, agg *Aggregator, timeout time.Duration) *models.Payload {
	t.Helper()
	select {
	case payload := <-agg.Flushed():
		return payload
	case <-time.After(timeout):
		t.Fatal("no payload flushed in time")
		return nil
	}
}

func TestSubmitGroupsArrivalsIntoOnePayload(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour})
	agg.ConfigureSource("pacs", SourceConfig{Timeout: time.Hour, Threshold: 3})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Submit(ctx, "key-a", newItem(fmt.Sprintf("f%d", i)), dicomOrigin(), false))
	}

	payload := waitFlushed(t, agg, time.Second)
	assert.Equal(t, models.PayloadStateNotify, payload.State)
	require.Len(t, payload.Files, 3)
	// Arrival order is preserved
	assert.Equal(t, "f0", payload.Files[0].ID)
	assert.Equal(t, "f1", payload.Files[1].ID)
	assert.Equal(t, "f2", payload.Files[2].ID)

	// The flushed payload is durable until a terminal outcome removes it
	stored, err := repo.Get(ctx, payload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayloadStateNotify, stored.State)
}

func TestTimeoutFlushHappensExactlyOnce(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: 50 * time.Millisecond})

	ctx := context.Background()
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f0"), dicomOrigin(), false))
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f1"), dicomOrigin(), false))

	payload := waitFlushed(t, agg, time.Second)
	assert.Len(t, payload.Files, 2)

	select {
	case extra := <-agg.Flushed():
		t.Fatalf("unexpected second flush of payload %s", extra.ID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSlidingWindowExtendsDeadline(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour, DefaultPolicy: PolicySlidingWindow})

	ctx := context.Background()
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f0"), dicomOrigin(), false))

	payloads, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	first := payloads[0].Timeout

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f1"), dicomOrigin(), false))

	payloads, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.True(t, payloads[0].Timeout.After(first), "deadline should move with each arrival")
}

func TestFixedDeadlineKeepsFirstArrivalDeadline(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour, DefaultPolicy: PolicyFixedDeadline})

	ctx := context.Background()
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f0"), dicomOrigin(), false))

	payloads, err := repo.List(ctx)
	require.NoError(t, err)
	first := payloads[0].Timeout

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f1"), dicomOrigin(), false))

	payloads, err = repo.List(ctx)
	require.NoError(t, err)
	assert.True(t, payloads[0].Timeout.Equal(first), "deadline should not move")
}

func TestImmediateFlushBypassesWindow(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour})

	ctx := context.Background()
	origin := models.DataOrigin{Source: "hl7", Service: models.ServiceTypeHL7}
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f0"), origin, true))

	payload := waitFlushed(t, agg, time.Second)
	assert.Len(t, payload.Files, 1)

	// The key is free again: the next arrival opens a fresh payload
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("f1"), origin, true))
	second := waitFlushed(t, agg, time.Second)
	assert.NotEqual(t, payload.ID, second.ID)
}

func TestFlushToMoveHandsPayloadToDelivery(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour})
	agg.ConfigureSource("pacs", SourceConfig{Timeout: time.Hour, Threshold: 1, FlushTo: models.PayloadStateMove})

	require.NoError(t, agg.Submit(context.Background(), "key-a", newItem("f0"), dicomOrigin(), false))

	payload := waitFlushed(t, agg, time.Second)
	assert.Equal(t, models.PayloadStateMove, payload.State)
}

func TestInterleavedKeysStaySeparate(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour})
	agg.ConfigureSource("pacs", SourceConfig{Timeout: time.Hour, Threshold: 2})

	ctx := context.Background()
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("a0"), dicomOrigin(), false))
	require.NoError(t, agg.Submit(ctx, "key-b", newItem("b0"), dicomOrigin(), false))
	require.NoError(t, agg.Submit(ctx, "key-a", newItem("a1"), dicomOrigin(), false))
	require.NoError(t, agg.Submit(ctx, "key-b", newItem("b1"), dicomOrigin(), false))

	byKey := map[string][]string{}
	for i := 0; i < 2; i++ {
		payload := waitFlushed(t, agg, time.Second)
		for _, f := range payload.Files {
			byKey[payload.Key] = append(byKey[payload.Key], f.ID)
		}
	}
	assert.Equal(t, []string{"a0", "a1"}, byKey["key-a"])
	assert.Equal(t, []string{"b0", "b1"}, byKey["key-b"])
}

// Concurrent first arrivals for one key must all land in the same payload.
// The arrival that creates the bucket holds its lock until the payload is
// seeded, so a racing arrival can never observe an empty bucket.
func TestConcurrentFirstArrivalsShareOnePayload(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour})

	ctx := context.Background()
	const keys, writers = 50, 8

	var wg sync.WaitGroup
	for k := 0; k < keys; k++ {
		key := fmt.Sprintf("key-%d", k)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				assert.NoError(t, agg.Submit(ctx, key, newItem(id), dicomOrigin(), false))
			}(fmt.Sprintf("%s-f%d", key, w))
		}
	}
	wg.Wait()

	payloads, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, payloads, keys)
	for _, payload := range payloads {
		assert.Len(t, payload.Files, writers, "key %s", payload.Key)
	}
}

func TestUnknownSourceRejected(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour, RequireRegisteredSource: true})

	err := agg.Submit(context.Background(), "key-a", newItem("f0"), dicomOrigin(), false)
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestEmptyKeyRejected(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: time.Hour})

	err := agg.Submit(context.Background(), "", newItem("f0"), dicomOrigin(), false)
	assert.Error(t, err)
}

// Three instances arriving within a two-second window must coalesce into a
// single payload that flushes once the window closes.
func TestStudyArrivalScenario(t *testing.T) {
	repo := repository.NewMemoryPayloadRepository()
	agg := New(repo, Config{DefaultTimeout: 150 * time.Millisecond})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Submit(ctx, "study-1", newItem(fmt.Sprintf("f%d", i)), dicomOrigin(), false))
		time.Sleep(10 * time.Millisecond)
	}

	payload := waitFlushed(t, agg, time.Second)
	assert.Len(t, payload.Files, 3)
	assert.Equal(t, 1, func() int {
		payloads, _ := repo.List(ctx)
		return len(payloads)
	}())
}
