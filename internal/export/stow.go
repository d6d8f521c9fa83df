package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// STOWExporter delivers artifacts to a DICOMweb destination via STOW-RS
type STOWExporter struct {
	dest    Destination
	client  *http.Client
	baseURL string
}

// NewSTOWExporter creates a DICOMweb exporter for a destination
func NewSTOWExporter(dest Destination) (*STOWExporter, error) {
	if dest.Endpoint == "" {
		return nil, fmt.Errorf("destination %s has no endpoint", dest.Name)
	}

	timeout := dest.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &STOWExporter{
		dest:    dest,
		client:  &http.Client{Timeout: timeout},
		baseURL: dest.Endpoint,
	}, nil
}

// Deliver posts all files in a single multipart/related STOW-RS request
func (e *STOWExporter) Deliver(ctx context.Context, files []ExportFile) (*DeliveryResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", "application/dicom")
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart section: %w", err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, fmt.Errorf("failed to write multipart section: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	storeURL := fmt.Sprintf("%s/studies", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", storeURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf("multipart/related; type=\"application/dicom\"; boundary=%s", writer.Boundary()))
	req.Header.Set("Accept", "application/dicom+json")

	resp, err := e.client.Do(req)
	if err != nil {
		return classifySTOWError(err), nil
	}
	defer resp.Body.Close()

	statuses := make(map[string]string, len(files))
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		for _, file := range files {
			statuses[file.Identity] = string(StatusSuccess)
		}
		result := succeeded()
		result.FileStatuses = statuses
		return result, nil
	default:
		respBody, _ := io.ReadAll(resp.Body)
		for _, file := range files {
			statuses[file.Identity] = string(StatusFailure)
		}
		result := failed(ErrorAborted, fmt.Sprintf("STOW-RS returned status %d: %s", resp.StatusCode, string(respBody)))
		result.FileStatuses = statuses
		return result, nil
	}
}

// Echo verifies reachability with a QIDO-RS query limited to one result
func (e *STOWExporter) Echo(ctx context.Context) (*DeliveryResult, error) {
	queryURL := fmt.Sprintf("%s/studies?limit=1", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, "GET", queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/dicom+json")

	resp, err := e.client.Do(req)
	if err != nil {
		return classifySTOWError(err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return failed(ErrorAborted, fmt.Sprintf("QIDO-RS returned status %d", resp.StatusCode)), nil
	}
	return succeeded(), nil
}

// Close releases idle HTTP connections
func (e *STOWExporter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func classifySTOWError(err error) *DeliveryResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return failed(ErrorTimeout, err.Error())
	default:
		return failed(ErrorUnreachable, err.Error())
	}
}
