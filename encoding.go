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
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType enumerates the typed values that can be packed into
// registers. Multi-register types span consecutive addresses,
// big-endian with the high word first.
type ValueType uint8

const (
	TypeBool ValueType = iota
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat32
	TypeFloat64
)

// RegisterCount returns the number of registers the type occupies
// (1, 2 or 4).
func (t ValueType) RegisterCount() int {
	switch t {
	case TypeInt32, TypeUint32, TypeFloat32:
		return 2
	case TypeInt64, TypeUint64, TypeFloat64:
		return 4
	default:
		return 1
	}
}

// String returns the canonical type name.
func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "BOOL"
	case TypeInt8:
		return "INT8"
	case TypeUint8:
		return "UINT8"
	case TypeInt16:
		return "INT16"
	case TypeUint16:
		return "UINT16"
	case TypeInt32:
		return "INT32"
	case TypeUint32:
		return "UINT32"
	case TypeInt64:
		return "INT64"
	case TypeUint64:
		return "UINT64"
	case TypeFloat32:
		return "FLOAT32"
	case TypeFloat64:
		return "FLOAT64"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ValueType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ValueType) UnmarshalText(text []byte) error {
	parsed, err := ParseValueType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseValueType parses a type name as used in seed files. Names are
// case-insensitive.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BOOL":
		return TypeBool, nil
	case "INT8":
		return TypeInt8, nil
	case "UINT8":
		return TypeUint8, nil
	case "INT16":
		return TypeInt16, nil
	case "UINT16":
		return TypeUint16, nil
	case "INT32":
		return TypeInt32, nil
	case "UINT32":
		return TypeUint32, nil
	case "INT64":
		return TypeInt64, nil
	case "UINT64":
		return TypeUint64, nil
	case "FLOAT32":
		return TypeFloat32, nil
	case "FLOAT64":
		return TypeFloat64, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownValueType, s)
}

// splitWords spreads a 64-bit pattern over n registers, high word
// first.
func splitWords(bits uint64, n int) []uint16 {
	regs := make([]uint16, n)
	for i := 0; i < n; i++ {
		regs[i] = uint16(bits >> (16 * (n - 1 - i)))
	}
	return regs
}

func joinWords(regs []uint16) uint64 {
	var bits uint64
	for _, r := range regs {
		bits = bits<<16 | uint64(r)
	}
	return bits
}

// EncodeValue parses value according to the type and packs it into
// registers. 8-bit types occupy the low byte of one register.
func EncodeValue(t ValueType, value string) ([]uint16, error) {
	value = strings.TrimSpace(value)

	switch t {
	case TypeBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		if v {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil

	case TypeInt8:
		v, err := strconv.ParseInt(value, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return []uint16{uint16(v) & 0x00FF}, nil

	case TypeUint8:
		v, err := strconv.ParseUint(value, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return []uint16{uint16(v)}, nil

	case TypeInt16:
		v, err := strconv.ParseInt(value, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return []uint16{uint16(v)}, nil

	case TypeUint16:
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return []uint16{uint16(v)}, nil

	case TypeInt32:
		v, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return splitWords(uint64(uint32(v)), 2), nil

	case TypeUint32:
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return splitWords(v, 2), nil

	case TypeInt64:
		v, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return splitWords(uint64(v), 4), nil

	case TypeUint64:
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return splitWords(v, 4), nil

	case TypeFloat32:
		v, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return splitWords(uint64(math.Float32bits(float32(v))), 2), nil

	case TypeFloat64:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s value %q: %w", t, value, err)
		}
		return splitWords(math.Float64bits(v), 4), nil
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownValueType, uint8(t))
}

// DecodeValue renders registers back into the string form EncodeValue
// accepts. The register count must match the type.
func DecodeValue(t ValueType, regs []uint16) (string, error) {
	if len(regs) != t.RegisterCount() {
		return "", fmt.Errorf("%s needs %d registers, got %d", t, t.RegisterCount(), len(regs))
	}

	switch t {
	case TypeBool:
		return strconv.FormatBool(regs[0] != 0), nil
	case TypeInt8:
		return strconv.FormatInt(int64(int8(regs[0])), 10), nil
	case TypeUint8:
		return strconv.FormatUint(uint64(uint8(regs[0])), 10), nil
	case TypeInt16:
		return strconv.FormatInt(int64(int16(regs[0])), 10), nil
	case TypeUint16:
		return strconv.FormatUint(uint64(regs[0]), 10), nil
	case TypeInt32:
		return strconv.FormatInt(int64(int32(joinWords(regs))), 10), nil
	case TypeUint32:
		return strconv.FormatUint(joinWords(regs), 10), nil
	case TypeInt64:
		return strconv.FormatInt(int64(joinWords(regs)), 10), nil
	case TypeUint64:
		return strconv.FormatUint(joinWords(regs), 10), nil
	case TypeFloat32:
		f := math.Float32frombits(uint32(joinWords(regs)))
		return strconv.FormatFloat(float64(f), 'g', -1, 32), nil
	case TypeFloat64:
		f := math.Float64frombits(joinWords(regs))
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	}

	return "", fmt.Errorf("%w: %d", ErrUnknownValueType, uint8(t))
}
