package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/pkg/mllp"
)

// HL7Exporter delivers HL7 v2 messages to a destination over MLLP
type HL7Exporter struct {
	dest   Destination
	client *mllp.Client
}

// NewHL7Exporter creates an MLLP exporter for a destination
func NewHL7Exporter(dest Destination) (*HL7Exporter, error) {
	if dest.Host == "" || dest.Port == 0 {
		return nil, fmt.Errorf("destination %s has no MLLP address", dest.Name)
	}

	timeout := dest.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HL7Exporter{
		dest:   dest,
		client: mllp.NewClient(dest.Addr(), timeout),
	}, nil
}

// Deliver sends each message and requires a positive acknowledgment for it
func (e *HL7Exporter) Deliver(ctx context.Context, files []ExportFile) (*DeliveryResult, error) {
	statuses := make(map[string]string, len(files))
	for _, file := range files {
		ack, err := e.client.Send(ctx, file.Data)
		if err != nil {
			statuses[file.Identity] = string(StatusFailure)
			result := classifyMLLPError(err)
			result.FileStatuses = statuses
			return result, nil
		}
		if !mllp.IsAccept(ack) {
			statuses[file.Identity] = string(StatusFailure)
			result := failed(ErrorAborted, fmt.Sprintf("destination %s returned a negative acknowledgment", e.dest.Name))
			result.FileStatuses = statuses
			return result, nil
		}
		statuses[file.Identity] = string(StatusSuccess)
	}

	result := succeeded()
	result.FileStatuses = statuses
	return result, nil
}

// Echo is not supported by the MLLP transport
func (e *HL7Exporter) Echo(ctx context.Context) (*DeliveryResult, error) {
	return nil, fmt.Errorf("echo is not supported for HL7 destinations")
}

// Close is a no-op; MLLP connections are per delivery
func (e *HL7Exporter) Close() error {
	return nil
}

func classifyMLLPError(err error) *DeliveryResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return failed(ErrorTimeout, err.Error())
	default:
		return failed(ErrorUnreachable, err.Error())
	}
}
