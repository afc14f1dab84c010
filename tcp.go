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
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// tcpTransport owns the TCP listener and its client connections. Each
// connection gets its own receive buffer and dispatch loop; frames are
// drained from the buffer as they complete.
type tcpTransport struct {
	srv *Server

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
}

func newTCPTransport(srv *Server) *tcpTransport {
	return &tcpTransport{
		srv:   srv,
		conns: make(map[net.Conn]struct{}),
	}
}

// start binds the listener and begins accepting connections.
func (t *tcpTransport) start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(listener)
	return nil
}

func (t *tcpTransport) addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *tcpTransport) activeConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// stop tears down the listener, closes every client connection and
// waits for the per-connection loops to drain.
func (t *tcpTransport) stop() {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return
	}

	t.mu.Lock()
	if t.listener != nil {
		t.listener.Close()
	}
	for conn := range t.conns {
		conn.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *tcpTransport) acceptLoop(listener net.Listener) {
	defer t.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&t.closed) == 1 {
				return
			}
			t.srv.logger().Error("accept error", slog.String("error", err.Error()))
			continue
		}

		t.mu.Lock()
		if len(t.conns) >= t.srv.opts.maxConns {
			t.mu.Unlock()
			t.srv.logger().Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		t.conns[conn] = struct{}{}
		t.srv.metrics.ActiveConns.Add(1)
		t.srv.metrics.TotalConns.Add(1)
		t.mu.Unlock()

		// Configure TCP options
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *tcpTransport) handleConn(conn net.Conn) {
	defer func() {
		// Recover from panic to prevent server crash
		if r := recover(); r != nil {
			t.srv.logger().Error("panic in connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		t.wg.Done()
		conn.Close()
		t.mu.Lock()
		delete(t.conns, conn)
		t.srv.metrics.ActiveConns.Add(-1)
		t.mu.Unlock()
	}()

	t.srv.logger().Debug("connection accepted",
		slog.String("remote", conn.RemoteAddr().String()))

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)

	for {
		if atomic.LoadInt32(&t.closed) == 1 {
			return
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = t.drain(conn, buf)
		}
		if err != nil {
			if atomic.LoadInt32(&t.closed) == 0 {
				t.srv.logger().Debug("connection closed",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("reason", err.Error()))
			}
			return
		}
	}
}

// drain extracts and dispatches every complete frame buffered so far
// and returns the remaining bytes.
func (t *tcpTransport) drain(conn net.Conn, buf []byte) []byte {
	for len(buf) >= MBAPHeaderSize+1 {
		length := int(binary.BigEndian.Uint16(buf[4:6]))
		total := 6 + length
		if len(buf) < total {
			break
		}

		frame := buf[:total]
		response := t.processFrame(frame)
		buf = buf[total:]

		if response != nil {
			t.srv.trace("TX", response)
			if _, err := conn.Write(response); err != nil {
				t.srv.logger().Debug("write error",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("error", err.Error()))
				conn.Close()
				break
			}
		}
	}

	// Keep the tail in a fresh slice so drained frames can be
	// collected.
	rest := make([]byte, len(buf))
	copy(rest, buf)
	return rest
}

// processFrame parses one MBAP frame and routes its PDU. A nil return
// drops the response.
func (t *tcpTransport) processFrame(adu []byte) []byte {
	t.srv.trace("RX", adu)

	var header MBAPHeader
	if err := header.Decode(adu); err != nil {
		t.srv.metrics.DroppedFrames.Add(1)
		return nil
	}

	// A length that cannot cover the unit id and a function code
	// leaves no PDU to route.
	if header.ProtocolID != ProtocolID || header.Length < 2 {
		t.srv.metrics.DroppedFrames.Add(1)
		t.srv.logger().Debug("frame dropped",
			slog.Uint64("protocol_id", uint64(header.ProtocolID)),
			slog.Uint64("length", uint64(header.Length)))
		return nil
	}

	pdu := adu[MBAPHeaderSize:]
	response := t.srv.dispatch(pdu)
	if response == nil {
		return nil
	}

	return encodeTCPFrame(header.TransactionID, header.UnitID, response)
}
