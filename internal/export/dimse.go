package export

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/pkg/dimse"
)

// DIMSEExporter delivers artifacts over a DIMSE association (C-STORE)
type DIMSEExporter struct {
	dest Destination
	pool *dimse.ConnectionPool
}

// NewDIMSEExporter creates a DIMSE exporter for a destination
func NewDIMSEExporter(dest Destination) (*DIMSEExporter, error) {
	if dest.AETitle == "" {
		return nil, fmt.Errorf("destination %s has no AE title", dest.Name)
	}

	callingAET := dest.CallingAETitle
	if callingAET == "" {
		callingAET = "MONAISCU"
	}

	pool := dimse.NewConnectionPool(dimse.PoolConfig{
		AssociationConfig: dimse.AssociationConfig{
			Host:       dest.Host,
			Port:       dest.Port,
			CallingAET: callingAET,
			CalledAET:  dest.AETitle,
			Timeout:    dest.Timeout,
		},
		MaxPoolSize: 2,
	})

	return &DIMSEExporter{dest: dest, pool: pool}, nil
}

// Deliver sends each file as a C-STORE over a pooled association
func (e *DIMSEExporter) Deliver(ctx context.Context, files []ExportFile) (*DeliveryResult, error) {
	conn, err := e.pool.Get(ctx)
	if err != nil {
		return classifyDIMSEError(err), nil
	}

	statuses := make(map[string]string, len(files))
	for _, file := range files {
		if err := conn.CStore(ctx, file.Identity, file.Data); err != nil {
			conn.Close()
			result := classifyDIMSEError(err)
			statuses[file.Identity] = string(StatusFailure)
			result.FileStatuses = statuses
			return result, nil
		}
		statuses[file.Identity] = string(StatusSuccess)
	}

	e.pool.Put(conn)
	result := succeeded()
	result.FileStatuses = statuses
	return result, nil
}

// Echo performs a C-ECHO against the destination
func (e *DIMSEExporter) Echo(ctx context.Context) (*DeliveryResult, error) {
	conn, err := e.pool.Get(ctx)
	if err != nil {
		return classifyDIMSEError(err), nil
	}

	if err := conn.CEcho(ctx); err != nil {
		conn.Close()
		return classifyDIMSEError(err), nil
	}

	e.pool.Put(conn)
	return succeeded(), nil
}

// Close closes the association pool
func (e *DIMSEExporter) Close() error {
	return e.pool.Close()
}

// classifyDIMSEError maps transport failures to their expected error kinds
func classifyDIMSEError(err error) *DeliveryResult {
	switch {
	case errors.Is(err, dimse.ErrAssociationRejected):
		return failed(ErrorAssociationRejected, err.Error())
	case errors.Is(err, dimse.ErrAssociationAborted):
		return failed(ErrorAborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return failed(ErrorTimeout, err.Error())
	default:
		return failed(ErrorUnreachable, err.Error())
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
