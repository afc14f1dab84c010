// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        uint8  // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = h.UnitID
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = data[6]
	return nil
}

// encodeTCPFrame wraps a response PDU in an MBAP header, echoing the
// request's transaction and unit identifiers.
func encodeTCPFrame(transactionID uint16, unitID uint8, pdu []byte) []byte {
	header := MBAPHeader{
		TransactionID: transactionID,
		ProtocolID:    ProtocolID,
		Length:        uint16(len(pdu) + 1),
		UnitID:        unitID,
	}
	frame := make([]byte, 0, MBAPHeaderSize+len(pdu))
	frame = append(frame, header.Encode()...)
	frame = append(frame, pdu...)
	return frame
}

// exceptionPDU builds the 2-byte exception response {FC|0x80, code}.
func exceptionPDU(fc FunctionCode, code ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(code)}
}

// crcTable is the CRC-16/MODBUS table: poly 0xA001 (reflected 0x8005),
// init 0xFFFF, no final xor, low byte transmitted first.
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// crcModbus computes the CRC-16/MODBUS checksum of data.
func crcModbus(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// encodeRTUFrame builds a serial ADU: slave address, PDU, CRC-16
// little-endian.
func encodeRTUFrame(slaveAddr uint8, pdu []byte) []byte {
	frame := make([]byte, 0, 3+len(pdu))
	frame = append(frame, slaveAddr)
	frame = append(frame, pdu...)
	crc := crcModbus(frame)
	frame = append(frame, byte(crc), byte(crc>>8))
	return frame
}

// decodeRTUFrame validates the trailing CRC and splits the ADU into
// slave address and PDU. A failed check returns ErrInvalidCRC (short
// frames return ErrInvalidFrame); such frames are dropped without a
// response.
func decodeRTUFrame(adu []byte) (slaveAddr uint8, pdu []byte, err error) {
	if len(adu) < 4 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(adu))
	}

	received := binary.LittleEndian.Uint16(adu[len(adu)-2:])
	if computed := crcModbus(adu[:len(adu)-2]); received != computed {
		return 0, nil, fmt.Errorf("%w: got %04X want %04X", ErrInvalidCRC, received, computed)
	}

	return adu[0], adu[1 : len(adu)-2], nil
}

// expectedFrameLength predicts the total RTU frame size (slave address
// and CRC included) from the partial buffer. It returns -1 while the
// buffer is too short to decide.
func expectedFrameLength(buf []byte) int {
	if len(buf) < 2 {
		return -1
	}

	switch FunctionCode(buf[1]) {
	case FuncReadCoils, FuncReadDiscreteInputs,
		FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncWriteSingleCoil, FuncWriteSingleRegister:
		// addr(1) + fc(1) + start(2) + qty(2) + crc(2)
		return 8

	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		// addr(1) + fc(1) + start(2) + qty(2) + byteCount(1) + data + crc(2)
		if len(buf) < 7 {
			return -1
		}
		return 7 + int(buf[6]) + 2

	case FuncReadFileRecord, FuncWriteFileRecord:
		// addr(1) + fc(1) + byteCount(1) + data + crc(2)
		if len(buf) < 3 {
			return -1
		}
		return 3 + int(buf[2]) + 2

	case FuncReadFileArea, FuncWriteFileArea:
		// addr(1) + fc(1) + fileNumber(2) + crc(2)
		return 6

	default:
		// Unknown function code; the minimal frame.
		return 4
	}
}
