package services

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/pkg/mllp"
)

func startListener(t *testing.T, f *ingestFixture) *MLLPListener {
	t.Helper()

	l := NewMLLPListener(MLLPListenerConfig{
		Addr:        "127.0.0.1:0",
		SourceName:  "his",
		Destination: "downstream",
		IdleTimeout: time.Second,
	}, f.ingest)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Shutdown)
	return l
}

func TestMLLPListenerAcknowledgesAndAdmits(t *testing.T) {
	f := newIngestFixture(t)
	l := startListener(t, f)

	conn, err := net.Dial("tcp", l.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(mllp.Frame([]byte(sampleORM)))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	ack, err := mllp.ReadMessage(bufio.NewReader(conn))
	require.NoError(t, err)
	assert.Contains(t, string(ack), "MSA|AA|MSG00042")

	select {
	case payload := <-f.agg.Flushed():
		assert.Equal(t, 1, payload.FileCount())
		assert.Equal(t, "downstream", payload.Trigger.Destination)
	case <-time.After(time.Second):
		t.Fatal("admitted message did not produce a payload")
	}
}

func TestMLLPListenerHandlesManyMessagesPerConnection(t *testing.T) {
	f := newIngestFixture(t)
	l := startListener(t, f)

	conn, err := net.Dial("tcp", l.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for i := 0; i < 3; i++ {
		_, err = conn.Write(mllp.Frame([]byte(sampleORM)))
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(time.Second))
		ack, err := mllp.ReadMessage(reader)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(ack), "MSA|AA"))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-f.agg.Flushed():
		case <-time.After(time.Second):
			t.Fatalf("payload %d never flushed", i)
		}
	}
}
