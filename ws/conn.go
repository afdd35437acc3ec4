// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ws

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Conn adapts a WebSocket connection to the net.Conn byte-stream interface.
// Each Write sends one binary message; Read drains received messages in
// order. A clean close by the peer surfaces as io.EOF.
type Conn struct {
	ws *websocket.Conn

	// reader is the in-progress message, carried across short reads.
	reader io.Reader
}

var _ net.Conn = (*Conn)(nil)

// NewConn returns a Conn wrapping the given WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read reads the next chunk of message data.
func (c *Conn) Read(b []byte) (int, error) {
	for {
		if c.reader == nil {
			_, reader, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					return 0, io.EOF
				}

				return 0, err
			}

			c.reader = reader
		}

		n, err := c.reader.Read(b)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n == 0 {
				continue
			}

			err = nil
		}

		return n, err
	}
}

// Write sends b as a single binary message.
func (c *Conn) Write(b []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}

	return len(b), nil
}

// Close attempts a clean WebSocket closing handshake before tearing down the
// underlying connection.
func (c *Conn) Close() error {
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(defaultCloseTimeout))

	return c.ws.Close()
}

// CloseWrite signals that no more data will be sent, without closing the
// reading side.
func (c *Conn) CloseWrite() error {
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")

	return c.ws.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(defaultCloseTimeout))
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetDeadline sets both the read and write deadlines.
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}

	return c.ws.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline on the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// NetConn returns the connection underlying the WebSocket session.
func (c *Conn) NetConn() net.Conn {
	return c.ws.NetConn()
}
