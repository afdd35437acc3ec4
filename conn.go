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
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Conn wraps a connection and bounds every read and write attempt with an
// independently configured timeout. Each call arms a fresh deadline from the
// currently configured duration, so timeouts never accumulate elapsed time
// across calls. Everything else is a byte-for-byte passthrough to the
// wrapped connection.
type Conn struct {
	conn net.Conn

	mu           sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	readArmed    bool
	writeArmed   bool
}

var _ net.Conn = (*Conn)(nil)

// NewConn returns a Conn wrapping the given connection. There is initially
// no read or write timeout.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// ReadTimeout returns the current read timeout.
func (c *Conn) ReadTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.readTimeout
}

// SetReadTimeout sets the timeout for each subsequent read attempt. A zero
// duration disables the timeout. The change applies from the next read
// onwards; a read already in flight completes under the timeout that was
// configured when it started.
func (c *Conn) SetReadTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readTimeout = timeout
}

// WriteTimeout returns the current write timeout.
func (c *Conn) WriteTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeTimeout
}

// SetWriteTimeout sets the timeout for each subsequent write attempt. A zero
// duration disables the timeout.
func (c *Conn) SetWriteTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeTimeout = timeout
}

// Read reads from the wrapped connection. If a read timeout is configured
// and no data arrives within it, Read fails with an error for which
// errors.Is(err, os.ErrDeadlineExceeded) is true. Errors from the wrapped
// connection (including io.EOF) pass through unchanged.
func (c *Conn) Read(b []byte) (int, error) {
	if err := c.armRead(); err != nil {
		return 0, err
	}

	return c.conn.Read(b)
}

// Write writes to the wrapped connection, governed by the write timeout the
// same way Read is governed by the read timeout. A single call that writes a
// partial buffer is bounded for that call only; the next call arms a fresh
// deadline.
func (c *Conn) Write(b []byte) (int, error) {
	if err := c.armWrite(); err != nil {
		return 0, err
	}

	return c.conn.Write(b)
}

func (c *Conn) armRead() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readTimeout > 0 {
		c.readArmed = true
		return c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	// A deadline armed by an earlier call must not fire once the timeout has
	// been disabled.
	if c.readArmed {
		c.readArmed = false
		return c.conn.SetReadDeadline(time.Time{})
	}

	return nil
}

func (c *Conn) armWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		c.writeArmed = true
		return c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	if c.writeArmed {
		c.writeArmed = false
		return c.conn.SetWriteDeadline(time.Time{})
	}

	return nil
}

// ReadFrom transfers data from r to the wrapped connection. When the wrapped
// connection supports vectored transfer it is forwarded directly with no
// timeout; otherwise the data is written through Write so the write timeout
// still bounds each attempt.
func (c *Conn) ReadFrom(r io.Reader) (int64, error) {
	if rf, ok := c.conn.(io.ReaderFrom); ok {
		c.mu.Lock()
		if c.writeArmed {
			c.writeArmed = false
			if err := c.conn.SetWriteDeadline(time.Time{}); err != nil {
				c.mu.Unlock()
				return 0, err
			}
		}
		c.mu.Unlock()

		return rf.ReadFrom(r)
	}

	return io.Copy(writerOnly{c}, r)
}

// writerOnly hides Conn.ReadFrom from io.Copy so the generic write loop is
// used instead.
type writerOnly struct {
	io.Writer
}

// Close closes the wrapped connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// CloseRead shuts down the reading side of the wrapped connection, when
// supported.
func (c *Conn) CloseRead() error {
	if cr, ok := c.conn.(interface{ CloseRead() error }); ok {
		return cr.CloseRead()
	}

	return fmt.Errorf("close read: %w", errors.ErrUnsupported)
}

// CloseWrite shuts down the writing side of the wrapped connection, when
// supported. No timeout applies.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}

	return fmt.Errorf("close write: %w", errors.ErrUnsupported)
}

// LocalAddr returns the local network address of the wrapped connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address of the wrapped connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets an absolute deadline on the wrapped connection. Note that
// a configured read or write timeout will overwrite it on the next call.
func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readArmed = !t.IsZero()
	c.writeArmed = !t.IsZero()
	c.mu.Unlock()

	return c.conn.SetDeadline(t)
}

// SetReadDeadline sets an absolute read deadline on the wrapped connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readArmed = !t.IsZero()
	c.mu.Unlock()

	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets an absolute write deadline on the wrapped connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeArmed = !t.IsZero()
	c.mu.Unlock()

	return c.conn.SetWriteDeadline(t)
}

// NetConn returns the wrapped connection, for callers that need
// transport-specific metadata (eg. whether the connection is reused or
// proxied).
func (c *Conn) NetConn() net.Conn {
	return c.conn
}
