// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package ws provides a WebSocket-backed dialer, eg. for tunnelling a byte
// stream through environments where only HTTP is routable.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"dario.cat/mergo"
	"github.com/gorilla/websocket"
	"github.com/noisysockets/dial/internal/ptr"
)

// Config is the configuration for a Dialer.
type Config struct {
	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout *time.Duration
}

// Dialer establishes WebSocket-backed connections. The address passed to
// DialContext is a ws:// or wss:// URL.
type Dialer struct {
	logger *slog.Logger
	dialer *websocket.Dialer
}

// NewDialer creates a new WebSocket dialer.
func NewDialer(logger *slog.Logger, conf *Config) (*Dialer, error) {
	if conf == nil {
		conf = &Config{}
	}

	if err := mergo.Merge(conf, &Config{
		HandshakeTimeout: ptr.To(defaultHandshakeTimeout),
	}); err != nil {
		return nil, fmt.Errorf("failed to set dialer config defaults: %w", err)
	}

	return &Dialer{
		logger: logger.WithGroup("ws"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: *conf.HandshakeTimeout,
		},
	}, nil
}

// DialContext establishes a WebSocket connection to the given URL. The
// network argument is ignored; the URL carries the scheme.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.logger.Debug("Dialing", slog.String("url", address))

	ws, _, err := d.dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, err
	}

	return NewConn(ws), nil
}
