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
	"log/slog"
	"time"
)

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger    *slog.Logger
	maxConns  int
	traceSink func(string)
	rtuIdle   time.Duration
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:   slog.Default(),
		maxConns: 100,
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent TCP
// connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithTraceSink registers a sink for the packet trace. Each received
// and sent frame is delivered as a hex string prefixed with "RX" or
// "TX". The sink must not block.
func WithTraceSink(sink func(string)) ServerOption {
	return func(o *serverOptions) {
		o.traceSink = sink
	}
}

// WithRTUIdleTimeout overrides the inter-character idle timeout
// derived from the baud rate.
func WithRTUIdleTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.rtuIdle = d
	}
}
