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

import "encoding/binary"

// FunctionHandler translates request PDUs for the standard data
// functions (FCs 1-6, 15, 16) into response PDUs against the process
// image. It holds no request state and is safe for concurrent use.
type FunctionHandler struct {
	store *DataStore
}

// NewFunctionHandler creates a dispatcher over the given data store.
func NewFunctionHandler(store *DataStore) *FunctionHandler {
	return &FunctionHandler{store: store}
}

// Handle dispatches a request PDU and returns the response PDU. Errors
// are returned as exception PDUs, never as empty responses.
func (h *FunctionHandler) Handle(pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionPDU(0, ExceptionIllegalFunction)
	}

	switch fc := FunctionCode(pdu[0]); fc {
	case FuncReadCoils:
		return h.readBits(fc, pdu, h.store.ReadCoils)
	case FuncReadDiscreteInputs:
		return h.readBits(fc, pdu, h.store.ReadDiscreteInputs)
	case FuncReadHoldingRegisters:
		return h.readWords(fc, pdu, h.store.ReadHoldingRegisters)
	case FuncReadInputRegisters:
		return h.readWords(fc, pdu, h.store.ReadInputRegisters)
	case FuncWriteSingleCoil:
		return h.writeSingleCoil(pdu)
	case FuncWriteSingleRegister:
		return h.writeSingleRegister(pdu)
	case FuncWriteMultipleCoils:
		return h.writeMultipleCoils(pdu)
	case FuncWriteMultipleRegisters:
		return h.writeMultipleRegisters(pdu)
	default:
		return exceptionPDU(fc, ExceptionIllegalFunction)
	}
}

// readBits serves FC 01 and FC 02. Bits are packed LSB-first: bit i of
// the run lands in response byte i/8 at position i%8.
func (h *FunctionHandler) readBits(fc FunctionCode, pdu []byte, read func(uint16, uint16) ([]bool, error)) []byte {
	if len(pdu) < 5 {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxReadBits {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}

	values, err := read(start, qty)
	if err != nil {
		return exceptionPDU(fc, ExceptionIllegalDataAddress)
	}

	byteCount := (qty + 7) / 8
	resp := make([]byte, 2+byteCount)
	resp[0] = byte(fc)
	resp[1] = byte(byteCount)
	for i, v := range values {
		if v {
			resp[2+i/8] |= 1 << (i % 8)
		}
	}
	return resp
}

// readWords serves FC 03 and FC 04.
func (h *FunctionHandler) readWords(fc FunctionCode, pdu []byte, read func(uint16, uint16) ([]uint16, error)) []byte {
	if len(pdu) < 5 {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])

	if qty < 1 || qty > MaxReadRegisters {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}

	values, err := read(start, qty)
	if err != nil {
		return exceptionPDU(fc, ExceptionIllegalDataAddress)
	}

	resp := make([]byte, 2+2*qty)
	resp[0] = byte(fc)
	resp[1] = byte(2 * qty)
	for i, v := range values {
		binary.BigEndian.PutUint16(resp[2+2*i:], v)
	}
	return resp
}

func (h *FunctionHandler) writeSingleCoil(pdu []byte) []byte {
	if len(pdu) < 5 {
		return exceptionPDU(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	if value != CoilOn && value != CoilOff {
		return exceptionPDU(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}

	h.store.WriteCoil(addr, value == CoilOn)

	// Echo request as response (copy to avoid sharing the slice)
	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp
}

func (h *FunctionHandler) writeSingleRegister(pdu []byte) []byte {
	if len(pdu) < 5 {
		return exceptionPDU(FuncWriteSingleRegister, ExceptionIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	h.store.WriteHoldingRegister(addr, value)

	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp
}

func (h *FunctionHandler) writeMultipleCoils(pdu []byte) []byte {
	if len(pdu) < 6 {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxWriteBits {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}

	expectedBytes := int((qty + 7) / 8)
	if byteCount != expectedBytes || len(pdu) < 6+byteCount {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}

	values := make([]bool, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = (pdu[6+i/8] & (1 << (i % 8))) != 0
	}

	if err := h.store.WriteCoils(start, values); err != nil {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionServerDeviceFailure)
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(resp[1:3], start)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp
}

func (h *FunctionHandler) writeMultipleRegisters(pdu []byte) []byte {
	if len(pdu) < 6 {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxWriteRegisters {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}

	if byteCount != 2*int(qty) || len(pdu) < 6+byteCount {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}

	values := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		values[i] = binary.BigEndian.Uint16(pdu[6+2*i:])
	}

	if err := h.store.WriteHoldingRegisters(start, values); err != nil {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionServerDeviceFailure)
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(resp[1:3], start)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp
}
