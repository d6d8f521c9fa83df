package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/broker"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/export"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/metrics"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
)

// DispatcherConfig holds configuration for the payload dispatcher
type DispatcherConfig struct {
	// MaxRetries bounds how many times a failed export payload is re-run
	// before it is permanently failed
	MaxRetries int

	// RetryDelay is the wait before a failed payload is re-dispatched
	RetryDelay time.Duration

	// QueueSize is the dispatch channel depth
	QueueSize int
}

// Dispatcher drives flushed payloads to their terminal outcome. Payloads in
// the notify state are announced to the workflow broker; payloads in the
// move state are exported. Either way the payload row is removed once a
// terminal event has been emitted, so exactly one terminal event exists per
// payload.
type Dispatcher struct {
	payloads  repository.PayloadRepository
	exporter  *export.Service
	publisher broker.Publisher
	cfg       DispatcherConfig

	queue chan *models.Payload
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewDispatcher creates a dispatcher
func NewDispatcher(payloads repository.PayloadRepository, exporter *export.Service, publisher broker.Publisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 128
	}

	return &Dispatcher{
		payloads:  payloads,
		exporter:  exporter,
		publisher: publisher,
		cfg:       cfg,
		queue:     make(chan *models.Payload, cfg.QueueSize),
		done:      make(chan struct{}),
	}
}

// Start begins consuming flushed payloads. It returns immediately; work
// happens on the dispatcher's goroutines.
func (d *Dispatcher) Start(ctx context.Context, flushed <-chan *models.Payload) {
	d.wg.Add(2)

	// Forward flushed payloads into the dispatch queue
	go func() {
		defer d.wg.Done()
		for {
			select {
			case payload, ok := <-flushed:
				if !ok {
					return
				}
				d.Enqueue(payload)
			case <-d.done:
				return
			}
		}
	}()

	go func() {
		defer d.wg.Done()
		for {
			select {
			case payload := <-d.queue:
				d.handle(ctx, payload)
			case <-d.done:
				return
			}
		}
	}()
}

// Enqueue submits a payload for dispatch. Used by the startup reconciler to
// resume payloads that survived a crash.
func (d *Dispatcher) Enqueue(payload *models.Payload) {
	select {
	case d.queue <- payload:
	case <-d.done:
	}
}

// Shutdown stops the dispatcher after the in-flight payload completes
func (d *Dispatcher) Shutdown() {
	d.once.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, payload *models.Payload) {
	switch payload.State {
	case models.PayloadStateNotify:
		d.notify(ctx, payload)
	case models.PayloadStateMove:
		d.export(ctx, payload)
	default:
		log.Error().
			Str("payload_id", payload.ID.String()).
			Str("state", string(payload.State)).
			Msg("Payload dispatched in unexpected state")
	}
}

// notify announces the payload to the workflow broker and removes it
func (d *Dispatcher) notify(ctx context.Context, payload *models.Payload) {
	event := models.NewWorkflowRequestEvent(payload)
	if err := d.publisher.Notify(ctx, event); err != nil {
		log.Error().Err(err).
			Str("payload_id", payload.ID.String()).
			Msg("Failed to announce payload, scheduling retry")
		d.retry(ctx, payload, err.Error(), nil)
		return
	}

	d.remove(ctx, payload)
	log.Info().
		Str("payload_id", payload.ID.String()).
		Str("correlation_id", payload.CorrelationID).
		Int("files", payload.FileCount()).
		Msg("Payload announced for workflow processing")
}

// export delivers the payload and emits its terminal export event
func (d *Dispatcher) export(ctx context.Context, payload *models.Payload) {
	result, err := d.exporter.Export(ctx, payload)
	if err != nil {
		log.Error().Err(err).
			Str("payload_id", payload.ID.String()).
			Msg("Export failed, scheduling retry")
		d.retry(ctx, payload, err.Error(), nil)
		return
	}

	if result.Status == models.ExportStatusSuccess {
		d.publishComplete(ctx, payload, models.ExportStatusSuccess, "", result.FileStatuses)
		d.remove(ctx, payload)
		log.Info().
			Str("payload_id", payload.ID.String()).
			Str("correlation_id", payload.CorrelationID).
			Msg("Payload exported")
		return
	}

	d.retry(ctx, payload, result.Message, result.FileStatuses)
}

// retry re-dispatches the payload after a delay, or permanently fails it
// once the retry budget is spent. Permanent failure emits the payload's
// single terminal failure event.
func (d *Dispatcher) retry(ctx context.Context, payload *models.Payload, message string, fileStatuses map[string]string) {
	payload.RetryCount++
	if payload.RetryCount > d.cfg.MaxRetries {
		metrics.PayloadsPermanentlyFailed.Inc()
		log.Error().
			Str("payload_id", payload.ID.String()).
			Str("correlation_id", payload.CorrelationID).
			Int("retries", payload.RetryCount-1).
			Msg("Payload permanently failed")
		if payload.State == models.PayloadStateMove {
			d.publishComplete(ctx, payload, models.ExportStatusFailure, message, fileStatuses)
		}
		d.remove(ctx, payload)
		return
	}

	if err := d.payloads.Update(ctx, payload); err != nil {
		log.Error().Err(err).
			Str("payload_id", payload.ID.String()).
			Msg("Failed to persist payload retry count")
	}

	log.Warn().
		Str("payload_id", payload.ID.String()).
		Int("attempt", payload.RetryCount).
		Dur("delay", d.cfg.RetryDelay).
		Msg("Payload re-dispatch scheduled")

	// Re-validate through the repository after the delay; the payload may
	// have been removed while the timer was pending
	timer := time.AfterFunc(d.cfg.RetryDelay, func() {
		exists, err := d.payloads.Contains(context.Background(), payload.ID)
		if err == nil && !exists {
			return
		}
		d.Enqueue(payload)
	})
	go func() {
		<-d.done
		timer.Stop()
	}()
}

func (d *Dispatcher) publishComplete(ctx context.Context, payload *models.Payload, status models.ExportStatus, message string, fileStatuses map[string]string) {
	event := &models.ExportCompleteEvent{
		PayloadID:     payload.ID.String(),
		CorrelationID: payload.CorrelationID,
		TaskID:        payload.TaskID,
		Destination:   payload.Trigger.Destination,
		Status:        status,
		Message:       message,
		FileStatuses:  fileStatuses,
		Timestamp:     time.Now().UTC(),
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("payload_id", payload.ID.String()).
			Msg("Failed to publish export completion")
	}
}

func (d *Dispatcher) remove(ctx context.Context, payload *models.Payload) {
	if err := d.payloads.Remove(ctx, payload.ID); err != nil {
		log.Error().Err(err).
			Str("payload_id", payload.ID.String()).
			Msg("Failed to remove dispatched payload")
	}
}
