package export

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/pkg/dimse"
)

func TestNewDIMSEExporterRequiresAETitle(t *testing.T) {
	_, err := NewDIMSEExporter(Destination{Name: "pacs", Type: DestinationTypeDIMSE, Host: "localhost", Port: 104})
	assert.ErrorContains(t, err, "AE title")
}

func TestClassifyDIMSEError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rejection", fmt.Errorf("connect: %w", dimse.ErrAssociationRejected), ErrorAssociationRejected},
		{"abort", fmt.Errorf("send: %w", dimse.ErrAssociationAborted), ErrorAborted},
		{"deadline", context.DeadlineExceeded, ErrorTimeout},
		{"network timeout", timeoutError{}, ErrorTimeout},
		{"refused connection", fmt.Errorf("dial tcp: connection refused"), ErrorUnreachable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := classifyDIMSEError(tc.err)
			assert.Equal(t, StatusFailure, result.Status)
			assert.Equal(t, tc.want, result.Error)
			assert.NotEmpty(t, result.Message)
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestDIMSEExporterReportsUnreachableDestination(t *testing.T) {
	// Nothing listens on this port; delivery must come back as an expected
	// failure, not an error
	exp, err := NewDIMSEExporter(Destination{
		Name:    "pacs",
		Type:    DestinationTypeDIMSE,
		Host:    "127.0.0.1",
		Port:    1, // reserved, never listening
		AETitle: "PACS",
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer exp.Close()

	result, err := exp.Deliver(context.Background(), []ExportFile{{Identity: "1.2.840.1", Data: []byte("x")}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, result.Status)
	assert.NotEqual(t, ErrorNone, result.Error)
}
