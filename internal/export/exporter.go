package export

import (
	"context"
	"fmt"
	"sync"
)

// Exporter delivers prepared artifacts to a single destination. Expected
// delivery failures are reported in the DeliveryResult; the error return is
// reserved for unexpected faults.
type Exporter interface {
	// Deliver ships the files to the destination in order
	Deliver(ctx context.Context, files []ExportFile) (*DeliveryResult, error)

	// Echo verifies reachability where the transport supports it
	Echo(ctx context.Context) (*DeliveryResult, error)

	// Close releases transport resources
	Close() error
}

// ExporterProvider resolves the exporter for a destination
type ExporterProvider interface {
	GetExporter(dest Destination) (Exporter, error)
}

// ExporterFactory manages exporter instances per destination
type ExporterFactory struct {
	mu        sync.RWMutex
	exporters map[string]Exporter // keyed by destination name
}

// NewExporterFactory creates a new exporter factory
func NewExporterFactory() *ExporterFactory {
	return &ExporterFactory{
		exporters: make(map[string]Exporter),
	}
}

// GetExporter gets or creates an exporter for a destination
func (f *ExporterFactory) GetExporter(dest Destination) (Exporter, error) {
	f.mu.RLock()
	exporter, exists := f.exporters[dest.Name]
	f.mu.RUnlock()

	if exists {
		return exporter, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if exporter, exists := f.exporters[dest.Name]; exists {
		return exporter, nil
	}

	var err error
	switch dest.Type {
	case DestinationTypeDIMSE:
		exporter, err = NewDIMSEExporter(dest)
	case DestinationTypeDICOMWeb:
		exporter, err = NewSTOWExporter(dest)
	case DestinationTypeHL7:
		exporter, err = NewHL7Exporter(dest)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", dest.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	f.exporters[dest.Name] = exporter
	return exporter, nil
}

// RemoveExporter closes and removes the exporter for a destination
func (f *ExporterFactory) RemoveExporter(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	exporter, exists := f.exporters[name]
	if !exists {
		return nil
	}

	if err := exporter.Close(); err != nil {
		return fmt.Errorf("failed to close exporter: %w", err)
	}

	delete(f.exporters, name)
	return nil
}

// Close closes all exporters
func (f *ExporterFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for name, exporter := range f.exporters {
		if err := exporter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.exporters, name)
	}
	return firstErr
}
