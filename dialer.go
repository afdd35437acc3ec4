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
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
)

// TimeoutDialer decorates a Dialer with independently configurable connect,
// read, and write timeouts. All three are disabled initially and may be
// changed at any time; each dial snapshots the values configured when it
// starts. TimeoutDialer is itself a Dialer, so it can be dropped in wherever
// an undecorated dialer is accepted, eg. as http.Transport.DialContext.
type TimeoutDialer struct {
	logger *slog.Logger
	dialer Dialer

	mu             sync.Mutex
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
}

var _ Dialer = (*TimeoutDialer)(nil)

// NewTimeoutDialer returns a TimeoutDialer decorating the given dialer.
// There is initially no connect, read, or write timeout.
func NewTimeoutDialer(logger *slog.Logger, dialer Dialer) *TimeoutDialer {
	return &TimeoutDialer{
		logger: logger.WithGroup("dialer"),
		dialer: dialer,
	}
}

// ConnectTimeout returns the current connect timeout.
func (d *TimeoutDialer) ConnectTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.connectTimeout
}

// SetConnectTimeout sets the timeout for establishing a connection. A zero
// duration disables the timeout.
func (d *TimeoutDialer) SetConnectTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connectTimeout = timeout
}

// ReadTimeout returns the current read timeout.
func (d *TimeoutDialer) ReadTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.readTimeout
}

// SetReadTimeout sets the per-attempt read timeout applied to dialed
// connections. A zero duration disables the timeout.
func (d *TimeoutDialer) SetReadTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.readTimeout = timeout
}

// WriteTimeout returns the current write timeout.
func (d *TimeoutDialer) WriteTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writeTimeout
}

// SetWriteTimeout sets the per-attempt write timeout applied to dialed
// connections. A zero duration disables the timeout.
func (d *TimeoutDialer) SetWriteTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeTimeout = timeout
}

// Ready forwards to the wrapped dialer's readiness probe, when it has one.
// Probing never arms a timer; only dialing is subject to the connect
// timeout.
func (d *TimeoutDialer) Ready() error {
	if p, ok := d.dialer.(Prober); ok {
		return p.Ready()
	}

	return nil
}

type dialResult struct {
	conn net.Conn
	err  error
}

// DialContext establishes a connection to the given address via the wrapped
// dialer, failing with a *TimeoutError if the connect timeout elapses first.
// On success the connection is returned wrapped in a *Conn carrying the
// configured read and write timeouts. Errors from the wrapped dialer pass
// through unchanged; they are never reclassified as timeouts.
func (d *TimeoutDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	connectTimeout := d.connectTimeout
	readTimeout := d.readTimeout
	writeTimeout := d.writeTimeout
	d.mu.Unlock()

	logger := d.logger.With(
		slog.String("id", xid.New().String()),
		slog.String("network", network),
		slog.String("address", address))

	wrap := func(conn net.Conn) *Conn {
		wrapped := NewConn(conn)
		wrapped.SetReadTimeout(readTimeout)
		wrapped.SetWriteTimeout(writeTimeout)
		return wrapped
	}

	if connectTimeout <= 0 {
		logger.Debug("Dialing")

		conn, err := d.dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}

		return wrap(conn), nil
	}

	logger.Debug("Dialing", slog.Duration("connect_timeout", connectTimeout))

	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := d.dialer.DialContext(ctx, network, address)
		resultCh <- dialResult{conn: conn, err: err}
	}()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	conn, err := d.awaitDial(ctx, logger, resultCh, timer.C, address, connectTimeout)
	if err != nil {
		return nil, err
	}

	return wrap(conn), nil
}

// awaitDial races the in-flight dial against its deadline. A dial that has
// already completed always wins over a simultaneously fired timer; a
// completed connection is never discarded due to a race with its own
// deadline.
func (d *TimeoutDialer) awaitDial(ctx context.Context, logger *slog.Logger,
	resultCh <-chan dialResult, deadline <-chan time.Time,
	address string, connectTimeout time.Duration) (net.Conn, error) {
	select {
	case res := <-resultCh:
		return res.conn, res.err
	case <-deadline:
		// The dial may have completed in the same instant the timer fired.
		select {
		case res := <-resultCh:
			return res.conn, res.err
		default:
		}

		logger.Debug("Dial timed out, abandoning",
			slog.Duration("connect_timeout", connectTimeout))

		d.abandon(logger, resultCh)

		return nil, &TimeoutError{Op: "dial", Address: address, Duration: connectTimeout}
	case <-ctx.Done():
		d.abandon(logger, resultCh)

		return nil, ctx.Err()
	}
}

// abandon stops observing the in-flight dial. The dial itself is not
// cancelled; if it eventually produces a connection nobody is waiting for,
// close it so the socket isn't leaked.
func (d *TimeoutDialer) abandon(logger *slog.Logger, resultCh <-chan dialResult) {
	go func() {
		if res := <-resultCh; res.conn != nil {
			logger.Debug("Closing connection from abandoned dial")

			_ = res.conn.Close()
		}
	}()
}
