package dimse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrAssociationRejected is returned when the remote AE answers the
// association request with A-ASSOCIATE-RJ. This is an expected outcome, not
// a fault.
var ErrAssociationRejected = errors.New("association rejected by remote AE")

// ErrAssociationAborted is returned when the remote AE sends A-ABORT
var ErrAssociationAborted = errors.New("association aborted by remote AE")

// PDU types
const (
	pduAssociateRQ = 0x01
	pduAssociateAC = 0x02
	pduAssociateRJ = 0x03
	pduDataTF      = 0x04
	pduReleaseRQ   = 0x05
	pduAbort       = 0x07
)

// Association represents one SCU-side DICOM association. A single
// association never runs two operations concurrently.
type Association struct {
	conn         net.Conn
	callingAET   string
	calledAET    string
	host         string
	port         int
	maxPDULength uint32
	timeout      time.Duration
	mu           sync.Mutex
	isConnected  bool
	lastUsed     time.Time
}

// AssociationConfig holds configuration for DICOM associations
type AssociationConfig struct {
	Host         string
	Port         int
	CallingAET   string
	CalledAET    string
	Timeout      time.Duration
	MaxPDULength uint32
}

// NewAssociation creates a new DICOM association
func NewAssociation(config AssociationConfig) *Association {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxPDULength == 0 {
		config.MaxPDULength = 16384
	}

	return &Association{
		callingAET:   config.CallingAET,
		calledAET:    config.CalledAET,
		host:         config.Host,
		port:         config.Port,
		maxPDULength: config.MaxPDULength,
		timeout:      config.Timeout,
	}
}

// Connect establishes the association: TCP connect, A-ASSOCIATE-RQ, then
// waits for A-ASSOCIATE-AC
func (a *Association) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isConnected {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", a.host, a.port)
	dialer := &net.Dialer{Timeout: a.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	a.conn = conn
	a.isConnected = true
	a.lastUsed = time.Now()

	if err := a.writePDU(a.buildAssociateRequestPDU()); err != nil {
		a.closeLocked()
		return fmt.Errorf("failed to send associate request: %w", err)
	}

	if err := a.receiveAssociateResponse(); err != nil {
		a.closeLocked()
		return err
	}

	return nil
}

// Close releases the association and closes the connection
func (a *Association) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *Association) closeLocked() error {
	if !a.isConnected {
		return nil
	}

	if err := a.sendReleaseRequest(); err != nil {
		log.Debug().Err(err).Str("called_aet", a.calledAET).Msg("Failed to send release request")
	}

	a.isConnected = false
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// IsConnected reports whether the association is still active
func (a *Association) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isConnected
}

// UpdateLastUsed updates the last used timestamp
func (a *Association) UpdateLastUsed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastUsed = time.Now()
}

// GetLastUsed returns the last used timestamp
func (a *Association) GetLastUsed() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUsed
}

func (a *Association) writePDU(pdu []byte) error {
	if err := a.conn.SetWriteDeadline(time.Now().Add(a.timeout)); err != nil {
		return err
	}
	_, err := a.conn.Write(pdu)
	return err
}

// readPDU reads one PDU, returning its type and body
func (a *Association) readPDU() (byte, []byte, error) {
	if err := a.conn.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
		return 0, nil, err
	}

	header := make([]byte, 6)
	if _, err := io.ReadFull(a.conn, header); err != nil {
		return 0, nil, fmt.Errorf("failed to read PDU header: %w", err)
	}

	length := uint32(header[2])<<24 | uint32(header[3])<<16 | uint32(header[4])<<8 | uint32(header[5])
	data := make([]byte, length)
	if _, err := io.ReadFull(a.conn, data); err != nil {
		return 0, nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return header[0], data, nil
}

// receiveAssociateResponse waits for A-ASSOCIATE-AC and surfaces rejection
// and abort as typed errors
func (a *Association) receiveAssociateResponse() error {
	pduType, _, err := a.readPDU()
	if err != nil {
		return err
	}

	switch pduType {
	case pduAssociateAC:
		return nil
	case pduAssociateRJ:
		return ErrAssociationRejected
	case pduAbort:
		return ErrAssociationAborted
	default:
		return fmt.Errorf("unexpected PDU type: 0x%02x", pduType)
	}
}

// sendReleaseRequest sends A-RELEASE-RQ
func (a *Association) sendReleaseRequest() error {
	pdu := []byte{
		pduReleaseRQ,           // PDU type
		0x00,                   // Reserved
		0x00, 0x00, 0x00, 0x04, // PDU length: 4
		0x00, 0x00, 0x00, 0x00, // Reserved
	}
	return a.writePDU(pdu)
}

// buildAssociateRequestPDU builds A-ASSOCIATE-RQ proposing the verification
// and storage SOP classes the gateway exports
func (a *Association) buildAssociateRequestPDU() []byte {
	pdu := []byte{pduAssociateRQ, 0x00} // PDU type, Reserved

	// Protocol version
	pdu = append(pdu, 0x00, 0x01)

	// Reserved
	pdu = append(pdu, 0x00, 0x00)

	// Called and Calling AE Titles, 16 bytes each, space padded
	pdu = append(pdu, padAET(a.calledAET)...)
	pdu = append(pdu, padAET(a.callingAET)...)

	// Reserved (32 bytes)
	pdu = append(pdu, make([]byte, 32)...)

	pdu = append(pdu, a.buildApplicationContext()...)
	pdu = append(pdu, a.buildPresentationContexts()...)
	pdu = append(pdu, a.buildUserInformation()...)

	// Backfill PDU length
	length := uint32(len(pdu) - 6)
	pdu[2] = byte(length >> 24)
	pdu[3] = byte(length >> 16)
	pdu[4] = byte(length >> 8)
	pdu[5] = byte(length)

	return pdu
}

func (a *Association) buildApplicationContext() []byte {
	// DICOM Application Context Name
	uid := "1.2.840.10008.3.1.1.1"

	item := []byte{0x10, 0x00}
	length := uint16(len(uid))
	item = append(item, byte(length>>8), byte(length))
	item = append(item, []byte(uid)...)
	return item
}

func (a *Association) buildPresentationContexts() []byte {
	var contexts []byte

	sopClasses := []string{
		"1.2.840.10008.1.1",           // Verification (C-ECHO)
		"1.2.840.10008.5.1.4.1.1.2",   // CT Image Storage
		"1.2.840.10008.5.1.4.1.1.4",   // MR Image Storage
		"1.2.840.10008.5.1.4.1.1.6.1", // Ultrasound Image Storage
		"1.2.840.10008.5.1.4.1.1.7",   // Secondary Capture Image Storage
		"1.2.840.10008.5.1.4.1.1.128", // PET Image Storage
	}

	presentationContextID := byte(1)
	for _, sopClass := range sopClasses {
		contexts = append(contexts, a.buildPresentationContext(presentationContextID, sopClass)...)
		presentationContextID += 2 // IDs must be odd
	}

	return contexts
}

func (a *Association) buildPresentationContext(id byte, sopClass string) []byte {
	item := []byte{0x20, 0x00}

	lengthPos := len(item)
	item = append(item, 0x00, 0x00)

	item = append(item, id)
	item = append(item, 0x00, 0x00, 0x00)

	// Abstract Syntax
	abstractSyntax := []byte{0x30, 0x00}
	abstractSyntax = append(abstractSyntax, byte(len(sopClass)>>8), byte(len(sopClass)))
	abstractSyntax = append(abstractSyntax, []byte(sopClass)...)
	item = append(item, abstractSyntax...)

	// Transfer Syntaxes
	transferSyntaxes := []string{
		"1.2.840.10008.1.2",   // Implicit VR Little Endian
		"1.2.840.10008.1.2.1", // Explicit VR Little Endian
	}
	for _, ts := range transferSyntaxes {
		transferSyntax := []byte{0x40, 0x00}
		transferSyntax = append(transferSyntax, byte(len(ts)>>8), byte(len(ts)))
		transferSyntax = append(transferSyntax, []byte(ts)...)
		item = append(item, transferSyntax...)
	}

	length := uint16(len(item) - 4)
	item[lengthPos] = byte(length >> 8)
	item[lengthPos+1] = byte(length)

	return item
}

func (a *Association) buildUserInformation() []byte {
	item := []byte{0x50, 0x00}

	lengthPos := len(item)
	item = append(item, 0x00, 0x00)

	// Maximum PDU length
	maxLength := []byte{0x51, 0x00, 0x00, 0x04}
	maxLength = append(maxLength,
		byte(a.maxPDULength>>24),
		byte(a.maxPDULength>>16),
		byte(a.maxPDULength>>8),
		byte(a.maxPDULength),
	)
	item = append(item, maxLength...)

	// Implementation Class UID
	implClassUID := "1.2.826.0.1.3680043.9.7433.2.1"
	implClass := []byte{0x52, 0x00}
	implClass = append(implClass, byte(len(implClassUID)>>8), byte(len(implClassUID)))
	implClass = append(implClass, []byte(implClassUID)...)
	item = append(item, implClass...)

	// Implementation Version Name
	implVersion := "INFORMATICS_GW_1"
	implVer := []byte{0x55, 0x00}
	implVer = append(implVer, byte(len(implVersion)>>8), byte(len(implVersion)))
	implVer = append(implVer, []byte(implVersion)...)
	item = append(item, implVer...)

	length := uint16(len(item) - 4)
	item[lengthPos] = byte(length >> 8)
	item[lengthPos+1] = byte(length)

	return item
}

// padAET pads an AE Title to 16 bytes with spaces
func padAET(aet string) []byte {
	result := make([]byte, 16)
	copy(result, []byte(aet))
	for i := len(aet); i < 16; i++ {
		result[i] = ' '
	}
	return result
}
