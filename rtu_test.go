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
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeSerialPort is an in-memory serial port. Reads block on a channel
// of chunks so tests control exactly how the byte stream is split.
type fakeSerialPort struct {
	reads     chan []byte
	responses chan []byte

	once sync.Once
	done chan struct{}
}

func newFakeSerialPort() *fakeSerialPort {
	return &fakeSerialPort{
		reads:     make(chan []byte, 16),
		responses: make(chan []byte, 16),
		done:      make(chan struct{}),
	}
}

func (p *fakeSerialPort) Read(b []byte) (int, error) {
	select {
	case data := <-p.reads:
		return copy(b, data), nil
	case <-p.done:
		return 0, io.EOF
	}
}

func (p *fakeSerialPort) Write(b []byte) (int, error) {
	out := make([]byte, len(b))
	copy(out, b)
	p.responses <- out
	return len(b), nil
}

func (p *fakeSerialPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakeSerialPort) waitResponse(t *testing.T) []byte {
	t.Helper()
	select {
	case resp := <-p.responses:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("No RTU response")
		return nil
	}
}

func (p *fakeSerialPort) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case resp := <-p.responses:
		t.Fatalf("Unexpected RTU response: % X", resp)
	case <-time.After(d):
	}
}

func startTestRTUServer(t *testing.T, opts ...ServerOption) (*Server, *fakeSerialPort) {
	t.Helper()

	port := newFakeSerialPort()
	orig := openSerial
	openSerial = func(portName string, baudRate int) (serialPort, error) {
		return port, nil
	}
	t.Cleanup(func() { openSerial = orig })

	opts = append([]ServerOption{WithRTUIdleTimeout(30 * time.Millisecond)}, opts...)
	srv := NewServer(opts...)
	if err := srv.StartRTU("fake0", 9600); err != nil {
		t.Fatalf("StartRTU failed: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, port
}

func TestRTUIdleInterval(t *testing.T) {
	// 9600 baud: about 1.1 ms per character, so 35 characters stay
	// under the 50 ms floor.
	if got := rtuIdleInterval(9600); got != 50*time.Millisecond {
		t.Errorf("9600 baud: expected 50ms, got %s", got)
	}
	// High baud rates bottom out at the 50 ms floor.
	if got := rtuIdleInterval(115200); got != 50*time.Millisecond {
		t.Errorf("115200 baud: expected 50ms, got %s", got)
	}
}

func TestRTU_RoundTrip(t *testing.T) {
	srv, port := startTestRTUServer(t)
	srv.DataStore().InitializeHoldingRegisters(0, 1, 0x1234)

	port.reads <- encodeRTUFrame(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})

	resp := port.waitResponse(t)
	expected := encodeRTUFrame(0x01, []byte{0x03, 0x02, 0x12, 0x34})
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected % X, got % X", expected, resp)
	}
}

func TestRTU_SplitReads(t *testing.T) {
	srv, port := startTestRTUServer(t)
	srv.DataStore().InitializeHoldingRegisters(5, 1, 0xBEEF)

	frame := encodeRTUFrame(0x01, []byte{0x03, 0x00, 0x05, 0x00, 0x01})

	// Deliver one byte at a time; the length oracle completes the
	// frame without waiting for the idle timer.
	start := time.Now()
	for _, b := range frame {
		port.reads <- []byte{b}
	}

	resp := port.waitResponse(t)
	expected := encodeRTUFrame(0x01, []byte{0x03, 0x02, 0xBE, 0xEF})
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected % X, got % X", expected, resp)
	}
	if elapsed := time.Since(start); elapsed > 25*time.Millisecond {
		t.Errorf("Length oracle should complete before the idle timer, took %s", elapsed)
	}
}

func TestRTU_SlaveAddressEchoed(t *testing.T) {
	_, port := startTestRTUServer(t)

	for _, addr := range []uint8{0x01, 0x11, 0xF7} {
		port.reads <- encodeRTUFrame(addr, []byte{0x01, 0x00, 0x00, 0x00, 0x01})

		resp := port.waitResponse(t)
		if resp[0] != addr {
			t.Errorf("Slave address: expected 0x%02X, got 0x%02X", addr, resp[0])
		}
	}
}

func TestRTU_WriteMultipleRegisters(t *testing.T) {
	srv, port := startTestRTUServer(t)

	pdu := []byte{0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0xAA, 0x00, 0xBB}
	port.reads <- encodeRTUFrame(0x01, pdu)

	resp := port.waitResponse(t)
	expected := encodeRTUFrame(0x01, []byte{0x10, 0x00, 0x00, 0x00, 0x02})
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected % X, got % X", expected, resp)
	}
	if got := srv.DataStore().ReadHoldingRegister(1); got != 0x00BB {
		t.Errorf("HR[1]: expected 0x00BB, got 0x%04X", got)
	}
}

func TestRTU_FileRecordWrite(t *testing.T) {
	srv, port := startTestRTUServer(t)

	pdu := []byte{0x15, 0x09, 0x06, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x56, 0x78}
	port.reads <- encodeRTUFrame(0x01, pdu)

	resp := port.waitResponse(t)
	expected := encodeRTUFrame(0x01, pdu)
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected % X, got % X", expected, resp)
	}

	data, ok := srv.FileStore().lookup(3).ReadRecords(0, 1)
	if !ok || !bytes.Equal(data, []byte{0x56, 0x78}) {
		t.Errorf("Record: got %x", data)
	}
}

func TestRTU_CRCMismatchDropped(t *testing.T) {
	srv, port := startTestRTUServer(t)

	frame := encodeRTUFrame(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	frame[len(frame)-1] ^= 0xFF
	port.reads <- frame

	port.expectSilence(t, 100*time.Millisecond)
	if srv.Metrics().DroppedFrames.Value() != 1 {
		t.Errorf("DroppedFrames: expected 1, got %d", srv.Metrics().DroppedFrames.Value())
	}
}

func TestRTU_IdleTimerFlushesOracleBlindFrame(t *testing.T) {
	_, port := startTestRTUServer(t)

	// A corrupt byte count makes the length oracle expect far more
	// bytes than the frame carries; only the idle timer can close it.
	pdu := []byte{0x10, 0x00, 0x00, 0x00, 0x02, 0xC8}
	port.reads <- encodeRTUFrame(0x01, pdu)

	resp := port.waitResponse(t)
	expected := encodeRTUFrame(0x01, []byte{0x90, 0x03})
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected % X, got % X", expected, resp)
	}
}

func TestRTU_PartialFrameDroppedOnIdle(t *testing.T) {
	srv, port := startTestRTUServer(t)

	// Half an FC03 frame, then silence: the idle timer flushes it,
	// the CRC check drops it.
	frame := encodeRTUFrame(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	port.reads <- frame[:5]

	port.expectSilence(t, 150*time.Millisecond)
	if srv.Metrics().DroppedFrames.Value() != 1 {
		t.Errorf("DroppedFrames: expected 1, got %d", srv.Metrics().DroppedFrames.Value())
	}

	// The buffer was cleared; the next complete frame is served.
	port.reads <- frame
	resp := port.waitResponse(t)
	if resp[1] != 0x03 {
		t.Errorf("Expected FC03 response, got % X", resp)
	}
}

func TestRTU_UnknownFunctionException(t *testing.T) {
	_, port := startTestRTUServer(t)

	port.reads <- encodeRTUFrame(0x01, []byte{0x2B, 0x0E})

	resp := port.waitResponse(t)
	expected := encodeRTUFrame(0x01, []byte{0xAB, 0x01})
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected % X, got % X", expected, resp)
	}
}

func TestRTU_ScenarioReadHolding(t *testing.T) {
	srv, port := startTestRTUServer(t)
	srv.DataStore().InitializeHoldingRegisters(0, 1, 0x1234)

	// Frame 01 03 00 00 00 01 + CRC yields 01 03 02 12 34 + CRC.
	req := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	crc := crcModbus(req)
	req = append(req, 0, 0)
	binary.LittleEndian.PutUint16(req[6:], crc)
	port.reads <- req

	resp := port.waitResponse(t)

	want := []byte{0x01, 0x03, 0x02, 0x12, 0x34}
	wantCRC := crcModbus(want)
	want = append(want, 0, 0)
	binary.LittleEndian.PutUint16(want[5:], wantCRC)
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected % X, got % X", want, resp)
	}
}

func TestRTU_StopClosesPort(t *testing.T) {
	srv, port := startTestRTUServer(t)

	if !srv.Running() {
		t.Fatal("Server should be running")
	}
	srv.Stop()

	select {
	case <-port.done:
	case <-time.After(time.Second):
		t.Error("Stop should close the serial port")
	}

	// Late bytes produce no response.
	select {
	case port.reads <- encodeRTUFrame(0x01, []byte{0x03, 0x00, 0x00, 0x00, 0x01}):
	default:
	}
	port.expectSilence(t, 100*time.Millisecond)
}
