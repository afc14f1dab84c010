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
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
)

// serialPort is the slice of serial.Port the framer needs. Tests
// substitute an in-memory implementation.
type serialPort interface {
	io.ReadWriteCloser
}

// openSerial is swapped out in tests.
var openSerial = func(portName string, baudRate int) (serialPort, error) {
	return serial.Open(&serial.Config{
		Address:  portName,
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
	})
}

// rtuIdleInterval returns the inter-character idle timeout for a baud
// rate. The RTU standard asks for 3.5 character times; 35 with a 50 ms
// floor absorbs USB-serial adapter latency.
func rtuIdleInterval(baudRate int) time.Duration {
	charTime := 11000 / baudRate // ms per character (11 bits)
	timeout := 35 * charTime
	if timeout < 50 {
		timeout = 50
	}
	return time.Duration(timeout) * time.Millisecond
}

// rtuTransport reassembles request frames from a serial byte stream.
// Frame boundaries come from a length oracle when the function code is
// known, with an idle timer as the fallback; see expectedFrameLength.
type rtuTransport struct {
	srv  *Server
	port serialPort

	mu    sync.Mutex
	buf   []byte
	timer *time.Timer

	idle   time.Duration
	closed int32
	wg     sync.WaitGroup
}

func newRTUTransport(srv *Server, port serialPort, idle time.Duration) *rtuTransport {
	t := &rtuTransport{
		srv:  srv,
		port: port,
		idle: idle,
	}
	t.timer = time.AfterFunc(time.Hour, t.onIdle)
	t.timer.Stop()
	return t
}

func (t *rtuTransport) start() {
	t.wg.Add(1)
	go t.readLoop()
}

// stop closes the serial port, which unblocks the read loop, and
// drops the partial frame buffer.
func (t *rtuTransport) stop() {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return
	}

	t.mu.Lock()
	t.timer.Stop()
	t.buf = nil
	t.mu.Unlock()

	t.port.Close()
	t.wg.Wait()
}

func (t *rtuTransport) readLoop() {
	defer t.wg.Done()

	chunk := make([]byte, 256)
	for {
		n, err := t.port.Read(chunk)
		if atomic.LoadInt32(&t.closed) == 1 {
			return
		}
		if n > 0 {
			t.feed(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			if err != io.EOF {
				t.srv.reportSerialError(err)
			}
			return
		}
	}
}

// feed appends received bytes and inspects the buffer: if the length
// oracle says the frame is complete, it is processed immediately;
// otherwise the idle timer is restarted to catch frames the oracle
// cannot size.
func (t *rtuTransport) feed(data []byte) {
	t.mu.Lock()
	t.buf = append(t.buf, data...)

	if len(t.buf) >= 2 {
		expected := expectedFrameLength(t.buf)
		if expected > 0 && len(t.buf) >= expected {
			t.timer.Stop()
			frame := t.buf
			t.buf = nil
			t.mu.Unlock()

			t.process(frame)
			return
		}
	}

	t.timer.Reset(t.idle)
	t.mu.Unlock()
}

// onIdle fires when the line has been quiet: whatever is buffered is
// the frame.
func (t *rtuTransport) onIdle() {
	t.mu.Lock()
	if len(t.buf) == 0 {
		t.mu.Unlock()
		return
	}
	frame := t.buf
	t.buf = nil
	t.mu.Unlock()

	t.srv.logger().Debug("idle timeout, processing buffered frame",
		slog.Int("bytes", len(frame)))
	t.process(frame)
}

// process validates one ADU and writes the response. CRC failures and
// short frames are dropped silently; the line stays up.
func (t *rtuTransport) process(adu []byte) {
	if atomic.LoadInt32(&t.closed) == 1 {
		return
	}

	t.srv.trace("RX", adu)

	slaveAddr, pdu, err := decodeRTUFrame(adu)
	if err != nil {
		t.srv.metrics.DroppedFrames.Add(1)
		t.srv.logger().Debug("frame dropped", slog.String("reason", err.Error()))
		return
	}

	response := t.srv.dispatch(pdu)
	if response == nil {
		return
	}

	// The slave address is echoed unchanged; a single-slave bus is
	// assumed, so no unit id filter here.
	frame := encodeRTUFrame(slaveAddr, response)
	t.srv.trace("TX", frame)
	if _, err := t.port.Write(frame); err != nil {
		if atomic.LoadInt32(&t.closed) == 0 {
			t.srv.reportSerialError(err)
		}
	}
}
