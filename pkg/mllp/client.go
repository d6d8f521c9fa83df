// Package mllp implements the minimal lower layer protocol used to carry
// HL7v2 messages over TCP: each message is framed by a 0x0B start byte and
// a 0x1C 0x0D trailer, and the receiver answers with a framed ACK.
package mllp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"
)

const (
	startBlock = 0x0b
	endBlock   = 0x1c
	carriage   = 0x0d
)

// Client sends HL7 messages to one MLLP endpoint
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a client for the given host:port
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

// Send frames and transmits one message, then waits for the framed ACK.
// The returned bytes are the unframed ACK payload.
func (c *Client) Send(ctx context.Context, message []byte) ([]byte, error) {
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if _, err := conn.Write(Frame(message)); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	ack, err := ReadMessage(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to read acknowledgment: %w", err)
	}
	return ack, nil
}

// Frame wraps a message payload in the MLLP start and end blocks
func Frame(message []byte) []byte {
	framed := make([]byte, 0, len(message)+3)
	framed = append(framed, startBlock)
	framed = append(framed, message...)
	framed = append(framed, endBlock, carriage)
	return framed
}

// ReadMessage reads one framed message from r and returns its payload
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	// Skip to the start block
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == startBlock {
			break
		}
	}

	payload, err := r.ReadBytes(endBlock)
	if err != nil {
		return nil, err
	}
	payload = payload[:len(payload)-1]

	// Trailing carriage return after the end block
	if b, err := r.ReadByte(); err != nil {
		return nil, err
	} else if b != carriage {
		return nil, fmt.Errorf("malformed frame: expected 0x0d after end block, got 0x%02x", b)
	}

	return payload, nil
}

// IsAccept reports whether an ACK payload carries an accepting MSA segment
// (AA or CA acknowledgment code)
func IsAccept(ack []byte) bool {
	for _, segment := range bytes.Split(ack, []byte("\r")) {
		if !bytes.HasPrefix(segment, []byte("MSA|")) {
			continue
		}
		fields := bytes.Split(segment, []byte("|"))
		if len(fields) < 2 {
			return false
		}
		code := string(fields[1])
		return code == "AA" || code == "CA"
	}
	return false
}
