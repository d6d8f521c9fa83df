package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/pkg/mllp"
)

// MLLPListenerConfig holds the HL7 front-end settings
type MLLPListenerConfig struct {
	Addr        string
	SourceName  string
	Destination string
	IdleTimeout time.Duration
}

// MLLPListener accepts HL7v2 messages over MLLP and admits them through the
// ingest service. Every message is acknowledged: AA on admission, AE when
// the gateway could not accept it.
type MLLPListener struct {
	cfg    MLLPListenerConfig
	ingest *IngestService

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewMLLPListener creates an HL7 listener
func NewMLLPListener(cfg MLLPListenerConfig, ingest *IngestService) *MLLPListener {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &MLLPListener{
		cfg:    cfg,
		ingest: ingest,
		done:   make(chan struct{}),
	}
}

// Start binds the listen address and begins accepting connections
func (l *MLLPListener) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.cfg.Addr, err)
	}

	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()

	log.Info().Str("addr", l.cfg.Addr).Msg("HL7 MLLP listener started")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-l.done:
					return
				default:
					log.Error().Err(err).Msg("Failed to accept MLLP connection")
					continue
				}
			}
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				l.serve(ctx, conn)
			}()
		}
	}()
	return nil
}

// Shutdown stops accepting and waits for in-flight connections
func (l *MLLPListener) Shutdown() {
	close(l.done)
	l.mu.Lock()
	if l.listener != nil {
		l.listener.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// serve handles one connection; a peer may send many messages per connection
func (l *MLLPListener) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	reader := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		message, err := mllp.ReadMessage(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("remote", remote).Msg("MLLP connection closed")
			}
			return
		}

		src := IngestSource{
			Name:        l.cfg.SourceName,
			Destination: l.cfg.Destination,
			Service:     models.ServiceTypeHL7,
		}

		code := "AA"
		if _, err := l.ingest.ReceiveHL7(ctx, src, message); err != nil {
			log.Error().Err(err).Str("remote", remote).Msg("Failed to admit HL7 message")
			code = "AE"
		}

		ack := buildAck(message, code)
		conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if _, err := conn.Write(mllp.Frame(ack)); err != nil {
			log.Error().Err(err).Str("remote", remote).Msg("Failed to write acknowledgment")
			return
		}
	}
}

// buildAck derives an MSA acknowledgment from the inbound MSH segment
func buildAck(message []byte, code string) []byte {
	controlID := ""
	header := message
	if i := bytes.IndexByte(message, '\r'); i >= 0 {
		header = message[:i]
	}
	fields := bytes.Split(header, []byte("|"))
	if len(fields) > 9 {
		controlID = string(fields[9])
	}

	timestamp := time.Now().Format("20060102150405")
	msh := fmt.Sprintf("MSH|^~\\&|GATEWAY|GATEWAY|||%s||ACK|%s|P|2.3", timestamp, controlID)
	msa := fmt.Sprintf("MSA|%s|%s", code, controlID)
	return []byte(msh + "\r" + msa + "\r")
}
