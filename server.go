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
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Server is the Modbus slave facade. It owns the process image, the
// file stores and the transport framers, and serves one transport at a
// time: starting TCP while RTU runs (or the other way around) stops
// the running transport first.
type Server struct {
	opts *serverOptions

	store    *DataStore
	files    *FileStore
	fileArea *FileAddressStore
	router   *Router
	metrics  *ServerMetrics

	requests Counter
	lastFC   uint32

	mu      sync.Mutex
	running bool
	mode    Mode
	status  string
	tcp     *tcpTransport
	rtu     *rtuTransport
}

// NewServer creates a stopped server with empty stores.
func NewServer(opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	store := NewDataStore()
	files := NewFileStore()
	fileArea := NewFileAddressStore()

	return &Server{
		opts:     options,
		store:    store,
		files:    files,
		fileArea: fileArea,
		router:   NewRouter(NewFunctionHandler(store), files, fileArea),
		metrics:  NewServerMetrics(),
	}
}

func (s *Server) logger() *slog.Logger {
	return s.opts.logger
}

// DataStore returns the process image.
func (s *Server) DataStore() *DataStore { return s.store }

// FileStore returns the file-record store.
func (s *Server) FileStore() *FileStore { return s.files }

// FileAddressStore returns the flat file-address store.
func (s *Server) FileAddressStore() *FileAddressStore { return s.fileArea }

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics { return s.metrics }

// OnChange registers a sink for process-image change notifications.
func (s *Server) OnChange(sink ChangeSink) {
	s.store.OnChange(sink)
}

// StartTCP starts the Modbus/TCP listener on the given port. A running
// transport is stopped first. On a bind failure the server is left not
// running and the error is reported through the status surface.
func (s *Server) StartTCP(port int) error {
	s.Stop()

	tcp := newTCPTransport(s)
	if err := tcp.start(fmt.Sprintf(":%d", port)); err != nil {
		s.setStatus(fmt.Sprintf("TCP start failed: %v", err))
		return fmt.Errorf("start tcp: %w", err)
	}

	s.mu.Lock()
	s.tcp = tcp
	s.running = true
	s.mode = ModeTCP
	s.mu.Unlock()

	s.requests.Reset()
	s.setStatus(fmt.Sprintf("TCP server running (port %d)", port))
	s.logger().Info("server started",
		slog.String("mode", ModeTCP.String()),
		slog.String("addr", tcp.addr().String()))
	return nil
}

// StartRTU starts the Modbus/RTU framer on a serial port (8 data bits,
// no parity, 1 stop bit). A running transport is stopped first.
func (s *Server) StartRTU(portName string, baudRate int) error {
	s.Stop()

	port, err := openSerial(portName, baudRate)
	if err != nil {
		s.setStatus(fmt.Sprintf("RTU start failed: %v", err))
		return fmt.Errorf("start rtu: %w", err)
	}

	idle := s.opts.rtuIdle
	if idle == 0 {
		idle = rtuIdleInterval(baudRate)
	}

	rtu := newRTUTransport(s, port, idle)
	rtu.start()

	s.mu.Lock()
	s.rtu = rtu
	s.running = true
	s.mode = ModeRTU
	s.mu.Unlock()

	s.requests.Reset()
	s.setStatus(fmt.Sprintf("RTU server running (%s, %d)", portName, baudRate))
	s.logger().Info("server started",
		slog.String("mode", ModeRTU.String()),
		slog.String("port", portName),
		slog.Int("baud", baudRate),
		slog.Duration("idle_timeout", idle))
	return nil
}

// Stop tears down the active transport, closes client connections and
// resets the running flag. It is safe to call on a stopped server.
func (s *Server) Stop() {
	s.mu.Lock()
	tcp, rtu := s.tcp, s.rtu
	wasRunning := s.running
	s.tcp, s.rtu = nil, nil
	s.running = false
	s.mu.Unlock()

	if tcp != nil {
		tcp.stop()
	}
	if rtu != nil {
		rtu.stop()
	}

	if wasRunning {
		s.setStatus("server stopped")
		s.logger().Info("server stopped")
	}
}

// InitializeData seeds the default process image and file layout: the
// first hundred addresses of each region zeroed, two record files and
// a zeroed flat file-address region.
func (s *Server) InitializeData() {
	s.store.InitializeCoils(0, 100, false)
	s.store.InitializeDiscreteInputs(0, 100, false)
	s.store.InitializeHoldingRegisters(0, 100, 0)
	s.store.InitializeInputRegisters(0, 100, 0)

	s.files.CreateFile(1, "temperature log", 256)
	s.files.CreateFile(2, "status log", 128)

	s.fileArea.InitializeRegion(1000, 200)

	s.logger().Debug("data initialized")
}

// ========== Observability ==========

// Running reports whether a transport is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Mode returns the transport mode of the last (or current) run.
func (s *Server) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Status returns the last status message.
func (s *Server) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RequestCount returns the number of data-function requests (FCs 1-6,
// 15, 16) dispatched since the transport started.
func (s *Server) RequestCount() int64 {
	return s.requests.Value()
}

// LastFunctionCode returns the function code of the most recent
// request.
func (s *Server) LastFunctionCode() FunctionCode {
	return FunctionCode(atomic.LoadUint32(&s.lastFC))
}

// Addr returns the TCP listener address, or nil when not serving TCP.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	tcp := s.tcp
	s.mu.Unlock()
	if tcp == nil {
		return nil
	}
	return tcp.addr()
}

// ActiveConnections returns the number of connected TCP clients.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	tcp := s.tcp
	s.mu.Unlock()
	if tcp == nil {
		return 0
	}
	return tcp.activeConns()
}

func (s *Server) setStatus(message string) {
	s.mu.Lock()
	s.status = message
	s.mu.Unlock()
}

func (s *Server) reportSerialError(err error) {
	s.setStatus(fmt.Sprintf("RTU error: %v", err))
	s.logger().Error("serial error", slog.String("error", err.Error()))
}

// trace feeds the packet-trace sink, if any.
func (s *Server) trace(tag string, frame []byte) {
	if s.opts.traceSink == nil {
		return
	}
	s.opts.traceSink(fmt.Sprintf("%s % X", tag, frame))
}

// dispatch routes one request PDU and keeps the bookkeeping the
// observability surface exposes. Transports call it from their own
// goroutines; everything below is safe for concurrent use.
func (s *Server) dispatch(pdu []byte) []byte {
	if len(pdu) == 0 {
		return nil
	}

	fc := FunctionCode(pdu[0])
	atomic.StoreUint32(&s.lastFC, uint32(fc))

	s.logger().Debug("processing request",
		slog.String("func", fc.String()),
		slog.Int("pdu_len", len(pdu)))

	start := time.Now()
	response := s.router.Route(pdu)
	elapsed := time.Since(start)

	s.metrics.RequestsTotal.Add(1)
	s.metrics.Latency.Observe(elapsed)
	fm := s.metrics.ForFunction(fc)
	fm.Requests.Add(1)
	fm.Latency.Observe(elapsed)
	if len(response) == 2 && response[0]&0x80 != 0 {
		s.metrics.Exceptions.Add(1)
		fm.Errors.Add(1)
	}

	if fc.IsDataFunction() {
		s.requests.Add(1)
	}

	return response
}
