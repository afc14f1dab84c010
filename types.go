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

// Package modbus implements a Modbus slave (server) with TCP and RTU
// transports, an in-memory process image and a file-record store.
package modbus

import "fmt"

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Supported function codes.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
	FuncReadFileRecord         FunctionCode = 0x14
	FuncWriteFileRecord        FunctionCode = 0x15

	// Vendor function codes for the flat file-address area.
	FuncReadFileArea  FunctionCode = 0xCB
	FuncWriteFileArea FunctionCode = 0xCC
)

// String returns the string representation of fc.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReadFileRecord:
		return "ReadFileRecord"
	case FuncWriteFileRecord:
		return "WriteFileRecord"
	case FuncReadFileArea:
		return "ReadFileArea"
	case FuncWriteFileArea:
		return "WriteFileArea"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(fc))
	}
}

// IsDataFunction reports whether fc addresses the process image
// (FCs 1-6, 15, 16).
func (fc FunctionCode) IsDataFunction() bool {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters,
		FuncReadInputRegisters, FuncWriteSingleCoil, FuncWriteSingleRegister,
		FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return true
	}
	return false
}

// Region identifies one of the four process-image regions.
type Region uint8

const (
	RegionCoil Region = iota
	RegionDiscreteInput
	RegionHoldingRegister
	RegionInputRegister
)

// String returns the string representation of r.
func (r Region) String() string {
	switch r {
	case RegionCoil:
		return "coil"
	case RegionDiscreteInput:
		return "discrete"
	case RegionHoldingRegister:
		return "holding"
	case RegionInputRegister:
		return "input"
	default:
		return "unknown"
	}
}

// IsBitRegion reports whether r holds single-bit values.
func (r Region) IsBitRegion() bool {
	return r == RegionCoil || r == RegionDiscreteInput
}

// MarshalText implements encoding.TextMarshaler.
func (r Region) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Region) UnmarshalText(text []byte) error {
	parsed, err := ParseRegion(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRegion parses a region name as used in seed files.
func ParseRegion(s string) (Region, error) {
	switch s {
	case "coil", "coils":
		return RegionCoil, nil
	case "discrete", "discrete_input", "di":
		return RegionDiscreteInput, nil
	case "holding", "holding_register", "hr":
		return RegionHoldingRegister, nil
	case "input", "input_register", "ir":
		return RegionInputRegister, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRegion, s)
}

// Mode identifies the active transport binding.
type Mode uint8

const (
	ModeTCP Mode = iota
	ModeRTU
)

// String returns the string representation of m.
func (m Mode) String() string {
	switch m {
	case ModeTCP:
		return "TCP"
	case ModeRTU:
		return "RTU"
	default:
		return "unknown"
	}
}

// Protocol constants.
const (
	// MaxReadBits is the maximum number of coils or discrete inputs
	// that can be read in one request.
	MaxReadBits = 2000

	// MaxReadRegisters is the maximum number of registers that can be
	// read in one request.
	MaxReadRegisters = 125

	// MaxWriteBits is the maximum number of coils that can be written
	// in one request.
	MaxWriteBits = 1968

	// MaxWriteRegisters is the maximum number of registers that can be
	// written in one request.
	MaxWriteRegisters = 123

	// MaxFileRecords is the record capacity of auto-created files and
	// the upper bound on record numbers.
	MaxFileRecords = 10000

	// MaxRecordLength is the maximum record count in one file-record
	// sub-request.
	MaxRecordLength = 126

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0).
	ProtocolID = 0

	// DefaultTCPPort is the default Modbus TCP port.
	DefaultTCPPort = 502
)

// Coil values on the wire (FC05).
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Change describes a single mutation of the process image. For bit
// regions Value is 0 or 1.
type Change struct {
	Region  Region
	Address uint16
	Value   uint16
}

// ChangeSink receives change notifications from the data store. Sinks
// are invoked outside the store's critical section and must not block.
type ChangeSink func(Change)

// FileInfo describes one file in the record store.
type FileInfo struct {
	Number       uint16
	Description  string
	TotalRecords uint16
	Written      int
}
