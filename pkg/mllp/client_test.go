package mllp

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessage = "MSH|^~\\&|HIS|HOSPITAL|GATEWAY|GATEWAY|20260828120000||ORU^R01|CTRL-1|P|2.3\r"

// ackServer accepts one connection, reads one framed message and answers
// with the given framed ACK payload
func ackServer(t *testing.T, ack string) net.Addr {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := ReadMessage(bufio.NewReader(conn)); err != nil {
			return
		}
		conn.Write(Frame([]byte(ack)))
	}()
	return ln.Addr()
}

func TestClientSendReceivesAck(t *testing.T) {
	addr := ackServer(t, "MSH|^~\\&|GATEWAY|GATEWAY|||20260828120001||ACK|CTRL-1|P|2.3\rMSA|AA|CTRL-1\r")

	client := NewClient(addr.String(), time.Second)
	ack, err := client.Send(context.Background(), []byte(testMessage))
	require.NoError(t, err)
	assert.True(t, IsAccept(ack))
	assert.Contains(t, string(ack), "MSA|AA|CTRL-1")
}

func TestClientSendFailsWhenEndpointIsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(addr, 100*time.Millisecond)
	_, err = client.Send(context.Background(), []byte(testMessage))
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	framed := Frame([]byte(testMessage))
	assert.Equal(t, byte(0x0b), framed[0])
	assert.Equal(t, byte(0x1c), framed[len(framed)-2])
	assert.Equal(t, byte(0x0d), framed[len(framed)-1])

	payload, err := ReadMessage(bufio.NewReader(bytes.NewReader(framed)))
	require.NoError(t, err)
	assert.Equal(t, testMessage, string(payload))
}

func TestReadMessageSkipsLeadingNoise(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("\r\n")
	buf.Write(Frame([]byte(testMessage)))

	payload, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, testMessage, string(payload))
}

func TestReadMessageRejectsMalformedTrailer(t *testing.T) {
	raw := []byte{0x0b, 'M', 'S', 'H', 0x1c, 'X'}
	_, err := ReadMessage(bufio.NewReader(bytes.NewReader(raw)))
	assert.ErrorContains(t, err, "malformed frame")
}

func TestReadMessageReportsTruncatedFrame(t *testing.T) {
	raw := []byte{0x0b, 'M', 'S', 'H'}
	_, err := ReadMessage(bufio.NewReader(bytes.NewReader(raw)))
	assert.Error(t, err)
}

func TestIsAccept(t *testing.T) {
	assert.True(t, IsAccept([]byte("MSH|stuff\rMSA|AA|CTRL-1\r")))
	assert.True(t, IsAccept([]byte("MSH|stuff\rMSA|CA|CTRL-1\r")))
	assert.False(t, IsAccept([]byte("MSH|stuff\rMSA|AE|CTRL-1\r")))
	assert.False(t, IsAccept([]byte("MSH|stuff\rMSA|AR|CTRL-1\r")))
	assert.False(t, IsAccept([]byte("MSH|stuff\r")))
	assert.False(t, IsAccept(nil))
}
