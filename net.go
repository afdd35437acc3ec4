// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dial

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"dario.cat/mergo"
	"github.com/noisysockets/dial/internal/ptr"
)

// NetConfig is the configuration for a NetDialer.
type NetConfig struct {
	// KeepAliveInterval is the interval between keep-alive probes on dialed
	// connections. A negative value disables keep-alive probes.
	KeepAliveInterval *time.Duration
	// FallbackDelay is the wait before spawning a fallback connection when
	// dialing dual-stack hosts. A negative value disables dual-stack
	// fallback.
	FallbackDelay *time.Duration
}

// NetDialer dials connections using the operating system's network stack.
// It is the dialer most callers will wrap with a TimeoutDialer.
type NetDialer struct {
	logger *slog.Logger
	dialer net.Dialer
}

var _ Dialer = (*NetDialer)(nil)
var _ Prober = (*NetDialer)(nil)

// NewNetDialer creates a new NetDialer.
func NewNetDialer(logger *slog.Logger, conf *NetConfig) (*NetDialer, error) {
	if conf == nil {
		conf = &NetConfig{}
	}

	if err := mergo.Merge(conf, &NetConfig{
		KeepAliveInterval: ptr.To(defaultKeepAliveInterval),
		FallbackDelay:     ptr.To(defaultFallbackDelay),
	}); err != nil {
		return nil, fmt.Errorf("failed to set dialer config defaults: %w", err)
	}

	return &NetDialer{
		logger: logger.WithGroup("net"),
		dialer: net.Dialer{
			KeepAlive:     *conf.KeepAliveInterval,
			FallbackDelay: *conf.FallbackDelay,
		},
	}, nil
}

// Ready always reports ready; the network stack accepts new dials at any
// time.
func (d *NetDialer) Ready() error {
	return nil
}

// DialContext establishes a connection to the given address.
func (d *NetDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.logger.Debug("Dialing",
		slog.String("network", network),
		slog.String("address", address))

	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("Dialed",
		slog.String("local_addr", conn.LocalAddr().String()),
		slog.String("remote_addr", conn.RemoteAddr().String()))

	return conn, nil
}
