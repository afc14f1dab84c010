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
	"sync"
)

// bitRegion is a sparse mapping from address to bit. Unset addresses
// read as false.
type bitRegion struct {
	mu     sync.RWMutex
	values map[uint16]bool
}

func (r *bitRegion) read(addr uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[addr]
}

func (r *bitRegion) readRange(start, count uint16) ([]bool, error) {
	if count == 0 || count > MaxReadBits {
		return nil, fmt.Errorf("%w: %d bits", ErrOutOfRange, count)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]bool, count)
	for i := uint16(0); i < count; i++ {
		out[i] = r.values[start+i]
	}
	return out, nil
}

func (r *bitRegion) write(addr uint16, value bool) {
	r.mu.Lock()
	r.values[addr] = value
	r.mu.Unlock()
}

// writeRange applies all values under one lock so bulk writes are
// atomic with respect to concurrent range reads.
func (r *bitRegion) writeRange(start uint16, values []bool, max int) error {
	if len(values) == 0 || len(values) > max {
		return fmt.Errorf("%w: %d bits", ErrOutOfRange, len(values))
	}

	r.mu.Lock()
	for i, v := range values {
		r.values[start+uint16(i)] = v
	}
	r.mu.Unlock()
	return nil
}

func (r *bitRegion) initialize(start, count uint16, value bool) {
	r.mu.Lock()
	for i := uint16(0); i < count; i++ {
		r.values[start+i] = value
	}
	r.mu.Unlock()
}

// wordRegion is a sparse mapping from address to register word. Unset
// addresses read as zero.
type wordRegion struct {
	mu     sync.RWMutex
	values map[uint16]uint16
}

func (r *wordRegion) read(addr uint16) uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[addr]
}

func (r *wordRegion) readRange(start, count uint16) ([]uint16, error) {
	if count == 0 || count > MaxReadRegisters {
		return nil, fmt.Errorf("%w: %d registers", ErrOutOfRange, count)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint16, count)
	for i := uint16(0); i < count; i++ {
		out[i] = r.values[start+i]
	}
	return out, nil
}

func (r *wordRegion) write(addr, value uint16) {
	r.mu.Lock()
	r.values[addr] = value
	r.mu.Unlock()
}

func (r *wordRegion) writeRange(start uint16, values []uint16) error {
	if len(values) == 0 || len(values) > MaxWriteRegisters {
		return fmt.Errorf("%w: %d registers", ErrOutOfRange, len(values))
	}

	r.mu.Lock()
	for i, v := range values {
		r.values[start+uint16(i)] = v
	}
	r.mu.Unlock()
	return nil
}

func (r *wordRegion) initialize(start, count, value uint16) {
	r.mu.Lock()
	for i := uint16(0); i < count; i++ {
		r.values[start+i] = value
	}
	r.mu.Unlock()
}

// DataStore is the in-memory process image: coils, discrete inputs,
// holding registers and input registers, each with independent
// concurrency control.
//
// Protocol writes reach coils and holding registers only. Discrete
// inputs and input registers are written from inside the process
// (initialization, application code).
type DataStore struct {
	coils    bitRegion
	discrete bitRegion
	holding  wordRegion
	input    wordRegion

	sinkMu sync.RWMutex
	sinks  []ChangeSink
}

// NewDataStore creates an empty process image.
func NewDataStore() *DataStore {
	d := &DataStore{}
	d.coils.values = make(map[uint16]bool)
	d.discrete.values = make(map[uint16]bool)
	d.holding.values = make(map[uint16]uint16)
	d.input.values = make(map[uint16]uint16)
	return d
}

// OnChange registers a sink for change notifications. Sinks are called
// after the mutation is visible to readers, outside the region lock,
// and must not block.
func (d *DataStore) OnChange(sink ChangeSink) {
	d.sinkMu.Lock()
	d.sinks = append(d.sinks, sink)
	d.sinkMu.Unlock()
}

func (d *DataStore) notify(region Region, addr, value uint16) {
	d.sinkMu.RLock()
	sinks := d.sinks
	d.sinkMu.RUnlock()
	for _, sink := range sinks {
		sink(Change{Region: region, Address: addr, Value: value})
	}
}

func bitValue(v bool) uint16 {
	if v {
		return 1
	}
	return 0
}

// ========== Coils ==========

// ReadCoil returns the coil at addr; unset coils read as false.
func (d *DataStore) ReadCoil(addr uint16) bool {
	return d.coils.read(addr)
}

// ReadCoils reads count coils starting at start.
func (d *DataStore) ReadCoils(start, count uint16) ([]bool, error) {
	return d.coils.readRange(start, count)
}

// WriteCoil sets a single coil and notifies subscribers.
func (d *DataStore) WriteCoil(addr uint16, value bool) {
	d.coils.write(addr, value)
	d.notify(RegionCoil, addr, bitValue(value))
}

// WriteCoils sets a run of coils and notifies subscribers per coil.
func (d *DataStore) WriteCoils(start uint16, values []bool) error {
	if err := d.coils.writeRange(start, values, MaxWriteBits); err != nil {
		return err
	}
	for i, v := range values {
		d.notify(RegionCoil, start+uint16(i), bitValue(v))
	}
	return nil
}

// InitializeCoils bulk-seeds coils without notifications.
func (d *DataStore) InitializeCoils(start, count uint16, value bool) {
	d.coils.initialize(start, count, value)
}

// ========== Discrete inputs ==========

// ReadDiscreteInput returns the discrete input at addr.
func (d *DataStore) ReadDiscreteInput(addr uint16) bool {
	return d.discrete.read(addr)
}

// ReadDiscreteInputs reads count discrete inputs starting at start.
func (d *DataStore) ReadDiscreteInputs(start, count uint16) ([]bool, error) {
	return d.discrete.readRange(start, count)
}

// WriteDiscreteInput sets a discrete input. Not reachable from the
// protocol.
func (d *DataStore) WriteDiscreteInput(addr uint16, value bool) {
	d.discrete.write(addr, value)
	d.notify(RegionDiscreteInput, addr, bitValue(value))
}

// InitializeDiscreteInputs bulk-seeds discrete inputs without
// notifications.
func (d *DataStore) InitializeDiscreteInputs(start, count uint16, value bool) {
	d.discrete.initialize(start, count, value)
}

// ========== Holding registers ==========

// ReadHoldingRegister returns the holding register at addr; unset
// registers read as zero.
func (d *DataStore) ReadHoldingRegister(addr uint16) uint16 {
	return d.holding.read(addr)
}

// ReadHoldingRegisters reads count holding registers starting at start.
func (d *DataStore) ReadHoldingRegisters(start, count uint16) ([]uint16, error) {
	return d.holding.readRange(start, count)
}

// WriteHoldingRegister sets a single holding register and notifies
// subscribers.
func (d *DataStore) WriteHoldingRegister(addr, value uint16) {
	d.holding.write(addr, value)
	d.notify(RegionHoldingRegister, addr, value)
}

// WriteHoldingRegisters sets a run of holding registers. The write is
// atomic with respect to concurrent range reads; notifications follow
// per register once the batch is visible.
func (d *DataStore) WriteHoldingRegisters(start uint16, values []uint16) error {
	if err := d.holding.writeRange(start, values); err != nil {
		return err
	}
	for i, v := range values {
		d.notify(RegionHoldingRegister, start+uint16(i), v)
	}
	return nil
}

// InitializeHoldingRegisters bulk-seeds holding registers without
// notifications.
func (d *DataStore) InitializeHoldingRegisters(start, count, value uint16) {
	d.holding.initialize(start, count, value)
}

// ========== Input registers ==========

// ReadInputRegister returns the input register at addr.
func (d *DataStore) ReadInputRegister(addr uint16) uint16 {
	return d.input.read(addr)
}

// ReadInputRegisters reads count input registers starting at start.
func (d *DataStore) ReadInputRegisters(start, count uint16) ([]uint16, error) {
	return d.input.readRange(start, count)
}

// WriteInputRegister sets an input register. Not reachable from the
// protocol.
func (d *DataStore) WriteInputRegister(addr, value uint16) {
	d.input.write(addr, value)
	d.notify(RegionInputRegister, addr, value)
}

// InitializeInputRegisters bulk-seeds input registers without
// notifications.
func (d *DataStore) InitializeInputRegisters(start, count, value uint16) {
	d.input.initialize(start, count, value)
}

// ClearAll drops every value in all four regions.
func (d *DataStore) ClearAll() {
	d.coils.mu.Lock()
	d.coils.values = make(map[uint16]bool)
	d.coils.mu.Unlock()

	d.discrete.mu.Lock()
	d.discrete.values = make(map[uint16]bool)
	d.discrete.mu.Unlock()

	d.holding.mu.Lock()
	d.holding.values = make(map[uint16]uint16)
	d.holding.mu.Unlock()

	d.input.mu.Lock()
	d.input.values = make(map[uint16]uint16)
	d.input.mu.Unlock()
}
