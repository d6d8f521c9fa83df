package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/metrics"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
	"github.com/rs/zerolog/log"
)

// ErrUnknownSource is returned when a submission names a source the gateway
// has no configuration for and unregistered sources are not accepted.
var ErrUnknownSource = errors.New("unknown ingestion source")

// GroupingPolicy selects how the flush deadline behaves as artifacts arrive
type GroupingPolicy string

const (
	// PolicySlidingWindow resets the deadline on every arrival
	PolicySlidingWindow GroupingPolicy = "sliding"
	// PolicyFixedDeadline keeps the deadline from the first arrival
	PolicyFixedDeadline GroupingPolicy = "fixed"
)

// SourceConfig controls grouping behavior for one ingestion source
type SourceConfig struct {
	// Timeout is the group window; zero falls back to the aggregator default
	Timeout time.Duration
	// Threshold flushes the group once this many files accumulate; zero disables
	Threshold int
	// Policy selects sliding-window or fixed-deadline grouping
	Policy GroupingPolicy
	// FlushTo is the state a flushed payload transitions to: notify hands the
	// payload to the workflow broker, move hands it to the delivery queue
	FlushTo models.PayloadState
}

// Config holds aggregator-wide settings
type Config struct {
	// DefaultTimeout applies to sources without an explicit timeout
	DefaultTimeout time.Duration
	// DefaultPolicy applies to sources without an explicit policy
	DefaultPolicy GroupingPolicy
	// RequireRegisteredSource rejects submissions from unconfigured sources
	RequireRegisteredSource bool
	// QueueSize bounds the flushed-payload channel
	QueueSize int
}

// Aggregator coalesces asynchronous artifact arrivals into payloads, one per
// grouping key. Arrivals for different keys proceed in parallel; arrivals for
// the same key are serialized through a per-key critical section.
type Aggregator struct {
	repo    repository.PayloadRepository
	cfg     Config
	sources map[string]SourceConfig

	mu      sync.Mutex
	buckets map[string]*bucket

	flushed chan *models.Payload
}

// bucket is the in-flight grouping state for one key. All payload mutation
// happens under its lock; once consumed the bucket is dead and a new arrival
// for the key opens a fresh one.
type bucket struct {
	mu       sync.Mutex
	key      string
	payload  *models.Payload
	timer    *time.Timer
	cfg      SourceConfig
	consumed bool
}

// New creates an aggregator writing durable state through repo
func New(repo repository.PayloadRepository, cfg Config) *Aggregator {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = PolicySlidingWindow
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	return &Aggregator{
		repo:    repo,
		cfg:     cfg,
		sources: make(map[string]SourceConfig),
		buckets: make(map[string]*bucket),
		flushed: make(chan *models.Payload, cfg.QueueSize),
	}
}

// ConfigureSource registers grouping behavior for an ingestion source
func (a *Aggregator) ConfigureSource(source string, cfg SourceConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[source] = cfg
}

// Flushed returns the channel of payloads that left the created state.
// Each flushed payload appears exactly once; ownership transfers to the reader.
func (a *Aggregator) Flushed() <-chan *models.Payload {
	return a.flushed
}

// Submit admits one artifact under a grouping key. The first artifact for an
// absent key creates a payload atomically with the artifact; later arrivals
// append while the payload is still accumulating. flushImmediately bypasses
// the group window, for sources with no grouping semantics.
func (a *Aggregator) Submit(ctx context.Context, key string, item models.FileStorageItem, origin models.DataOrigin, flushImmediately bool) error {
	if key == "" {
		return fmt.Errorf("grouping key must not be empty")
	}
	cfg, err := a.sourceConfig(origin.Source)
	if err != nil {
		return err
	}

	for {
		// The creator of a bucket already holds its lock when a.bucket
		// publishes it, so a concurrent arrival for the same key blocks here
		// until the payload is seeded.
		b, created := a.bucket(key, cfg)
		if !created {
			b.mu.Lock()
		}
		if b.consumed {
			// Lost a race with a flush; the key is free again.
			b.mu.Unlock()
			a.dropBucket(key, b)
			continue
		}

		if created {
			if err := a.open(ctx, b, key, item, origin, cfg); err != nil {
				b.consumed = true
				b.mu.Unlock()
				a.dropBucket(key, b)
				return err
			}
		} else {
			if err := a.append(ctx, b, item, origin); err != nil {
				b.mu.Unlock()
				return err
			}
		}
		metrics.FilesReceived.WithLabelValues(string(origin.Service)).Inc()

		flushTrigger := ""
		switch {
		case flushImmediately:
			flushTrigger = "immediate"
		case cfg.Threshold > 0 && b.payload.FileCount() >= cfg.Threshold:
			flushTrigger = "threshold"
		}
		if flushTrigger != "" {
			err := a.flush(ctx, b, flushTrigger)
			b.mu.Unlock()
			a.dropBucket(key, b)
			return err
		}
		b.mu.Unlock()
		return nil
	}
}

func (a *Aggregator) sourceConfig(source string) (SourceConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg, ok := a.sources[source]
	if !ok {
		if a.cfg.RequireRegisteredSource {
			return SourceConfig{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
		}
		cfg = SourceConfig{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = a.cfg.DefaultTimeout
	}
	if cfg.Policy == "" {
		cfg.Policy = a.cfg.DefaultPolicy
	}
	if cfg.FlushTo == "" {
		cfg.FlushTo = models.PayloadStateNotify
	}
	return cfg, nil
}

// bucket returns the live bucket for key, creating one when absent. A newly
// created bucket is returned with its lock held: it must not be observable
// through the index without a payload, so the creator keeps other arrivals
// out until open has seeded it.
func (a *Aggregator) bucket(key string, cfg SourceConfig) (*bucket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.buckets[key]; ok {
		return b, false
	}
	b := &bucket{key: key, cfg: cfg}
	b.mu.Lock()
	a.buckets[key] = b
	return b, true
}

// dropBucket removes the bucket from the index if it is still the current one
func (a *Aggregator) dropBucket(key string, b *bucket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if current, ok := a.buckets[key]; ok && current == b {
		delete(a.buckets, key)
	}
}

// open creates and persists a new payload seeded with the first artifact,
// then arms the group deadline timer. Caller holds b.mu.
func (a *Aggregator) open(ctx context.Context, b *bucket, key string, item models.FileStorageItem, origin models.DataOrigin, cfg SourceConfig) error {
	payload := models.NewPayload(key, item, origin, time.Now().UTC().Add(cfg.Timeout))
	if err := a.repo.Add(ctx, payload); err != nil {
		return fmt.Errorf("failed to persist new payload for key %q: %w", key, err)
	}
	b.payload = payload
	b.timer = time.AfterFunc(cfg.Timeout, func() { a.expire(b) })
	metrics.PayloadsCreated.Inc()
	log.Debug().
		Str("payload_id", payload.ID.String()).
		Str("key", key).
		Dur("timeout", cfg.Timeout).
		Msg("Payload created")
	return nil
}

// append adds a later arrival to an accumulating payload. Caller holds b.mu.
func (a *Aggregator) append(ctx context.Context, b *bucket, item models.FileStorageItem, origin models.DataOrigin) error {
	b.payload.Add(item, origin)
	if b.cfg.Policy == PolicySlidingWindow {
		b.payload.Timeout = time.Now().UTC().Add(b.cfg.Timeout)
		b.timer.Reset(b.cfg.Timeout)
	}
	if err := a.repo.Update(ctx, b.payload); err != nil {
		// Roll back the in-memory append so a retried submission does not
		// double-count the artifact.
		b.payload.Files = b.payload.Files[:len(b.payload.Files)-1]
		b.payload.DataOrigins = b.payload.DataOrigins[:len(b.payload.DataOrigins)-1]
		return fmt.Errorf("failed to persist payload %s: %w", b.payload.ID, err)
	}
	return nil
}

// expire runs when a group deadline elapses
func (a *Aggregator) expire(b *bucket) {
	a.dropBucket(b.key, b)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumed {
		return
	}
	if b.payload == nil || b.payload.FileCount() == 0 {
		// Concurrently drained; nothing left to flush.
		b.consumed = true
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.flush(ctx, b, "timeout"); err != nil {
		// The payload stays in its created state; try again after another
		// window rather than losing it.
		log.Error().Err(err).
			Str("payload_id", b.payload.ID.String()).
			Msg("Failed to flush payload, rescheduling")
		b.timer.Reset(b.cfg.Timeout)
	}
}

// flush transitions the payload out of the created state and hands ownership
// to the notification or delivery path. Caller holds b.mu.
func (a *Aggregator) flush(ctx context.Context, b *bucket, trigger string) error {
	b.payload.State = b.cfg.FlushTo
	if err := a.repo.Update(ctx, b.payload); err != nil {
		b.payload.State = models.PayloadStateCreated
		return fmt.Errorf("failed to persist payload state transition: %w", err)
	}
	b.consumed = true
	b.timer.Stop()
	metrics.PayloadsFlushed.WithLabelValues(trigger).Inc()
	log.Info().
		Str("payload_id", b.payload.ID.String()).
		Str("key", b.key).
		Str("state", string(b.payload.State)).
		Str("trigger", trigger).
		Int("file_count", b.payload.FileCount()).
		Msg("Payload flushed")
	a.flushed <- b.payload
	return nil
}
