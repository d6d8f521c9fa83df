package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/metrics"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
)

// DatasetCodec decodes and re-encodes DICOM artifacts around the output
// plug-in pipeline
type DatasetCodec interface {
	Decode(data []byte) (*dicom.Dataset, error)
	Encode(ds *dicom.Dataset) ([]byte, error)
}

type dicomCodec struct{}

func (dicomCodec) Decode(data []byte) (*dicom.Dataset, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM data: %w", err)
	}
	return &ds, nil
}

func (dicomCodec) Encode(ds *dicom.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := dicom.Write(&buf, *ds); err != nil {
		return nil, fmt.Errorf("failed to encode DICOM data: %w", err)
	}
	return buf.Bytes(), nil
}

// QueueConfig holds configuration for the delivery queue
type QueueConfig struct {
	// RetryDelays is the wait before each retry attempt; its length bounds
	// the number of retries
	RetryDelays []time.Duration

	// BufferSize is the per-destination queue depth
	BufferSize int
}

// QueueOption customizes a Queue
type QueueOption func(*Queue)

// WithDatasetCodec replaces the DICOM codec used during file preparation
func WithDatasetCodec(codec DatasetCodec) QueueOption {
	return func(q *Queue) { q.codec = codec }
}

// WithFileReader replaces the artifact reader used during file preparation
func WithFileReader(read func(string) ([]byte, error)) QueueOption {
	return func(q *Queue) { q.readFile = read }
}

// Queue serializes deliveries per destination. Each destination gets a
// dedicated worker goroutine, so attempts against one destination never run
// concurrently while separate destinations proceed independently.
type Queue struct {
	factory     ExporterProvider
	retryDelays []time.Duration
	bufferSize  int
	codec       DatasetCodec
	readFile    func(string) ([]byte, error)

	mu      sync.Mutex
	workers map[string]chan *workItem
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

type workItem struct {
	ctx  context.Context
	req  *ScuWorkRequest
	resp chan *ScuWorkResponse
}

// NewQueue creates a delivery queue backed by the given exporter factory
func NewQueue(factory ExporterProvider, config QueueConfig, opts ...QueueOption) *Queue {
	if config.BufferSize == 0 {
		config.BufferSize = 64
	}
	if len(config.RetryDelays) == 0 {
		config.RetryDelays = []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second}
	}

	q := &Queue{
		factory:     factory,
		retryDelays: config.RetryDelays,
		bufferSize:  config.BufferSize,
		codec:       dicomCodec{},
		readFile:    os.ReadFile,
		workers:     make(map[string]chan *workItem),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit enqueues a work request for its destination and returns the channel
// that will carry the single response
func (q *Queue) Submit(ctx context.Context, req *ScuWorkRequest) (<-chan *ScuWorkResponse, error) {
	if req == nil || req.Destination.Name == "" {
		return nil, fmt.Errorf("work request has no destination")
	}
	if req.Operation == "" {
		req.Operation = OperationStore
	}

	ch, err := q.workerChannel(req.Destination)
	if err != nil {
		return nil, err
	}

	item := &workItem{ctx: ctx, req: req, resp: make(chan *ScuWorkResponse, 1)}
	select {
	case ch <- item:
		return item.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, fmt.Errorf("delivery queue is shut down")
	}
}

func (q *Queue) workerChannel(dest Destination) (chan *workItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("delivery queue is shut down")
	}

	ch, exists := q.workers[dest.Name]
	if exists {
		return ch, nil
	}

	ch = make(chan *workItem, q.bufferSize)
	q.workers[dest.Name] = ch
	q.wg.Add(1)
	go q.run(dest.Name, ch)
	return ch, nil
}

// run is the per-destination worker loop
func (q *Queue) run(destination string, ch chan *workItem) {
	defer q.wg.Done()

	for {
		select {
		case item := <-ch:
			item.resp <- q.process(item.ctx, item.req)
		case <-q.done:
			// Drain queued work so no submitter blocks forever
			for {
				select {
				case item := <-ch:
					item.resp <- &ScuWorkResponse{
						RequestID: item.req.ID,
						Status:    StatusFailure,
						Error:     ErrorCancelled,
						Message:   "delivery queue is shut down",
					}
				default:
					log.Debug().Str("destination", destination).Msg("Delivery worker stopped")
					return
				}
			}
		}
	}
}

// process prepares the files and drives the retry loop for one request
func (q *Queue) process(ctx context.Context, req *ScuWorkRequest) *ScuWorkResponse {
	files, substitutions, err := q.prepare(ctx, req)
	if err != nil {
		// Preparation faults are not transport errors; retrying cannot help
		return &ScuWorkResponse{
			RequestID:     req.ID,
			Status:        StatusFailure,
			Error:         ErrorNone,
			Message:       err.Error(),
			Substitutions: substitutions,
		}
	}

	exporter, err := q.factory.GetExporter(req.Destination)
	if err != nil {
		return &ScuWorkResponse{
			RequestID: req.ID,
			Status:    StatusFailure,
			Error:     ErrorNone,
			Message:   err.Error(),
		}
	}

	var result *DeliveryResult
	for attempt := 0; ; attempt++ {
		metrics.ExportAttempts.WithLabelValues(req.Destination.Name).Inc()

		if req.Operation == OperationEcho {
			result, err = exporter.Echo(ctx)
		} else {
			result, err = exporter.Deliver(ctx, files)
		}
		if err != nil {
			return &ScuWorkResponse{
				RequestID: req.ID,
				Status:    StatusFailure,
				Error:     ErrorNone,
				Message:   err.Error(),
			}
		}

		if result.Status == StatusSuccess {
			break
		}

		metrics.ExportFailures.WithLabelValues(req.Destination.Name, string(result.Error)).Inc()
		log.Warn().
			Str("destination", req.Destination.Name).
			Str("correlation_id", req.CorrelationID).
			Str("error", string(result.Error)).
			Int("attempt", attempt+1).
			Msg("Export attempt failed")

		if attempt >= len(q.retryDelays) {
			break
		}
		select {
		case <-time.After(q.retryDelays[attempt]):
		case <-ctx.Done():
			return &ScuWorkResponse{
				RequestID: req.ID,
				Status:    StatusFailure,
				Error:     ErrorCancelled,
				Message:   ctx.Err().Error(),
			}
		case <-q.done:
			return &ScuWorkResponse{
				RequestID: req.ID,
				Status:    StatusFailure,
				Error:     ErrorCancelled,
				Message:   "delivery queue is shut down",
			}
		}
	}

	return &ScuWorkResponse{
		RequestID:     req.ID,
		Status:        result.Status,
		Error:         result.Error,
		Message:       result.Message,
		FileStatuses:  result.FileStatuses,
		Substitutions: substitutions,
	}
}

// prepare reads each artifact from temporary storage and, for DICOM files,
// runs the destination's output plug-in pipeline over the dataset
func (q *Queue) prepare(ctx context.Context, req *ScuWorkRequest) ([]ExportFile, []plugins.Substitution, error) {
	files := make([]ExportFile, 0, len(req.Files))
	var substitutions []plugins.Substitution

	task := &plugins.ExportTaskContext{
		CorrelationID:      req.CorrelationID,
		WorkflowInstanceID: req.WorkflowInstanceID,
		ExportTaskID:       req.TaskID,
		Destination:        req.Destination.Name,
	}

	for i := range req.Files {
		item := &req.Files[i]
		data, err := q.readFile(item.File.TemporaryPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read artifact %s: %w", item.ID, err)
		}

		identity := item.ID
		if item.Kind == models.FileStorageKindDicom && item.Dicom != nil {
			identity = item.Dicom.SOPInstanceUID
		}

		if req.Pipeline != nil && item.Kind == models.FileStorageKindDicom {
			ds, err := q.codec.Decode(data)
			if err != nil {
				return nil, nil, fmt.Errorf("artifact %s: %w", item.ID, err)
			}
			subs, err := req.Pipeline.Execute(ctx, ds, task)
			if err != nil {
				return nil, nil, fmt.Errorf("artifact %s: %w", item.ID, err)
			}
			substitutions = append(substitutions, subs...)
			if data, err = q.codec.Encode(ds); err != nil {
				return nil, nil, fmt.Errorf("artifact %s: %w", item.ID, err)
			}
		}

		files = append(files, ExportFile{Identity: identity, Data: data})
	}

	return files, substitutions, nil
}

// Shutdown stops all workers after their in-flight deliveries complete and
// fails any queued work
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
}
