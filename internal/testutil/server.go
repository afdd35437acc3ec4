// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package testutil provides loopback servers for exercising dialers and
// connections in tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// StartTCPServer starts a loopback TCP server that runs handler for every
// accepted connection. The server shuts down when ctx is cancelled.
func StartTCPServer(ctx context.Context, handler func(conn net.Conn) error) (net.Addr, error) {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()

		return lis.Close()
	})

	g.Go(func() error {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return err
			}

			g.Go(func() error {
				defer func() {
					_ = conn.Close()
				}()

				return handler(conn)
			})
		}
	})

	go func() {
		_ = g.Wait()
	}()

	return lis.Addr(), nil
}

// Echo writes back everything it reads.
func Echo(conn net.Conn) error {
	_, err := io.Copy(conn, conn)
	return err
}

// Silent holds the connection open without ever sending any data.
func Silent(conn net.Conn) error {
	_, err := io.Copy(io.Discard, conn)
	return err
}

// SendAfter returns a handler that writes data after the given delay and
// then holds the connection open until the peer closes it.
func SendAfter(delay time.Duration, data []byte) func(conn net.Conn) error {
	return func(conn net.Conn) error {
		time.Sleep(delay)

		if _, err := conn.Write(data); err != nil {
			return err
		}

		_, err := io.Copy(io.Discard, conn)
		return err
	}
}

// StartWSServer starts a loopback WebSocket server that runs handler for
// every connection upgraded on /ws. The server shuts down when ctx is
// cancelled.
func StartWSServer(ctx context.Context, handler func(ws *websocket.Conn) error) (net.Addr, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "Failed to upgrade connection: %v", err)
			return
		}
		defer func() {
			_ = ws.Close()
		}()

		_ = handler(ws)
	})

	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Handler: mux,
	}

	go func() {
		_ = server.Serve(lis)
	}()

	go func() {
		<-ctx.Done()

		_ = server.Close()
	}()

	return lis.Addr(), nil
}

// WSEcho echoes every message back to the peer.
func WSEcho(ws *websocket.Conn) error {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		if err := ws.WriteMessage(mt, data); err != nil {
			return err
		}
	}
}

// WSSilent reads and discards messages without ever replying.
func WSSilent(ws *websocket.Conn) error {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return err
		}
	}
}
