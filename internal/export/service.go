package export

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
)

// Result is the aggregated outcome of exporting a payload across all of its
// destinations
type Result struct {
	Status       models.ExportStatus
	Message      string
	FileStatuses map[string]string
}

// Service fans a payload's files out to its configured destinations through
// the delivery queue and aggregates the per-destination responses.
type Service struct {
	queue    *Queue
	registry *plugins.Registry

	mu           sync.RWMutex
	destinations map[string]Destination
	pipelines    map[string]*plugins.OutputPipeline
}

// NewService creates an export service
func NewService(queue *Queue, registry *plugins.Registry) *Service {
	return &Service{
		queue:        queue,
		registry:     registry,
		destinations: make(map[string]Destination),
		pipelines:    make(map[string]*plugins.OutputPipeline),
	}
}

// AddDestination registers a destination and resolves its output plug-in
// pipeline. Unknown plug-in names fail here, at configuration time, rather
// than on first delivery.
func (s *Service) AddDestination(dest Destination, plugInNames []string) error {
	if dest.Name == "" {
		return fmt.Errorf("destination has no name")
	}

	pipeline, err := s.registry.ResolveOutput(plugInNames)
	if err != nil {
		return fmt.Errorf("destination %s: %w", dest.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinations[dest.Name] = dest
	s.pipelines[dest.Name] = pipeline

	log.Info().
		Str("destination", dest.Name).
		Str("type", string(dest.Type)).
		Strs("plugins", plugInNames).
		Msg("Export destination registered")
	return nil
}

// Destinations lists registered destination names
func (s *Service) Destinations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.destinations))
	for name := range s.destinations {
		names = append(names, name)
	}
	return names
}

// Export delivers the payload to every destination named by its trigger and
// data origins, in parallel across destinations. The returned Result carries
// expected delivery failures; the error return is reserved for configuration
// and unexpected faults.
func (s *Service) Export(ctx context.Context, payload *models.Payload) (*Result, error) {
	names := payloadDestinations(payload)
	if len(names) == 0 {
		return nil, fmt.Errorf("payload %s has no destination", payload.ID)
	}

	type pending struct {
		name string
		ch   <-chan *ScuWorkResponse
	}
	pendings := make([]pending, 0, len(names))

	for _, name := range names {
		s.mu.RLock()
		dest, ok := s.destinations[name]
		pipeline := s.pipelines[name]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("payload %s references unknown destination %s", payload.ID, name)
		}

		req := &ScuWorkRequest{
			ID:                 uuid.New().String(),
			CorrelationID:      payload.CorrelationID,
			TaskID:             payload.TaskID,
			WorkflowInstanceID: payload.WorkflowInstanceID,
			Destination:        dest,
			Operation:          OperationStore,
			Files:              payload.Files,
			Pipeline:           pipeline,
		}
		ch, err := s.queue.Submit(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue delivery to %s: %w", name, err)
		}
		pendings = append(pendings, pending{name: name, ch: ch})
	}

	result := &Result{Status: models.ExportStatusSuccess, FileStatuses: make(map[string]string)}
	var failures []string
	succeededCount := 0

	for _, p := range pendings {
		select {
		case resp := <-p.ch:
			for id, status := range resp.FileStatuses {
				result.FileStatuses[id] = status
			}
			if resp.Status == StatusSuccess {
				succeededCount++
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %s (%s)", p.name, resp.Error, resp.Message))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(failures) > 0 {
		if succeededCount > 0 {
			result.Status = models.ExportStatusPartial
		} else {
			result.Status = models.ExportStatusFailure
		}
		result.Message = strings.Join(failures, "; ")
	}
	return result, nil
}

// Shutdown stops the underlying delivery queue
func (s *Service) Shutdown() {
	s.queue.Shutdown()
}

// payloadDestinations collects the distinct destination names a payload
// addresses, trigger first
func payloadDestinations(p *models.Payload) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	add(p.Trigger.Destination)
	for _, origin := range p.DataOrigins {
		add(origin.Destination)
	}
	return names
}
