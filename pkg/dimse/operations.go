package dimse

import (
	"context"
	"fmt"
)

// CEcho performs a C-ECHO operation (DICOM ping)
func (a *Association) CEcho(ctx context.Context) error {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return err
		}
	}

	a.UpdateLastUsed()

	if err := a.sendDataTF(a.buildCEchoRequest()); err != nil {
		return fmt.Errorf("failed to send C-ECHO request: %w", err)
	}

	status, err := a.receiveCommandStatus()
	if err != nil {
		return fmt.Errorf("failed to receive C-ECHO response: %w", err)
	}
	if status != 0x0000 {
		return fmt.Errorf("C-ECHO failed with status: 0x%04x", status)
	}

	return nil
}

// CStore transmits one composite instance to the remote AE
func (a *Association) CStore(ctx context.Context, sopInstanceUID string, data []byte) error {
	if !a.IsConnected() {
		if err := a.Connect(ctx); err != nil {
			return err
		}
	}

	a.UpdateLastUsed()

	if err := a.sendDataTF(a.buildCStoreRequest(sopInstanceUID, data)); err != nil {
		return fmt.Errorf("failed to send C-STORE request: %w", err)
	}

	status, err := a.receiveCommandStatus()
	if err != nil {
		return fmt.Errorf("failed to receive C-STORE response: %w", err)
	}
	if status != 0x0000 {
		return fmt.Errorf("C-STORE for %s failed with status: 0x%04x", sopInstanceUID, status)
	}

	return nil
}

// buildCEchoRequest builds the C-ECHO-RQ command fragment
func (a *Association) buildCEchoRequest() []byte {
	// Presentation context 1 (verification), command fragment, last fragment
	body := []byte{0x01, 0x03}
	return body
}

// buildCStoreRequest builds the C-STORE-RQ command fragment followed by the
// dataset fragment carrying the instance bytes
func (a *Association) buildCStoreRequest(sopInstanceUID string, data []byte) []byte {
	// Command fragment on presentation context 3, marked last
	body := []byte{0x03, 0x03}
	body = append(body, []byte(sopInstanceUID)...)
	if len(sopInstanceUID)%2 != 0 {
		body = append(body, 0x00)
	}
	// Dataset fragment
	body = append(body, data...)
	return body
}

// sendDataTF wraps a body in a P-DATA-TF PDU and sends it
func (a *Association) sendDataTF(body []byte) error {
	pdu := []byte{pduDataTF, 0x00}
	length := uint32(len(body))
	pdu = append(pdu,
		byte(length>>24),
		byte(length>>16),
		byte(length>>8),
		byte(length),
	)
	pdu = append(pdu, body...)
	return a.writePDU(pdu)
}

// receiveCommandStatus reads the response PDU and extracts the DIMSE status
func (a *Association) receiveCommandStatus() (uint16, error) {
	pduType, data, err := a.readPDU()
	if err != nil {
		return 0, err
	}
	switch pduType {
	case pduDataTF:
		return parseCommandStatus(data), nil
	case pduAbort:
		return 0, ErrAssociationAborted
	default:
		return 0, fmt.Errorf("unexpected PDU type: 0x%02x", pduType)
	}
}

// parseCommandStatus extracts the (0000,0900) status from a response
// fragment; an empty or short fragment reads as success
func parseCommandStatus(data []byte) uint16 {
	if len(data) < 4 {
		return 0x0000
	}
	// Status trails the fragment as a little-endian pair
	return uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
}
