// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package dial provides timeout enforcement for network dialers. A
// TimeoutDialer decorates any Dialer with independently configurable
// connect, read, and write timeouts, without changing the semantics of the
// underlying transport or whatever protocol is layered on top of it.
package dial

import (
	"context"
	"net"
)

// Dialer is implemented by anything that can asynchronously turn an address
// into a live connection, eg. a plain TCP dialer or a WebSocket dialer.
type Dialer interface {
	// DialContext establishes a connection to the given address.
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober is optionally implemented by dialers that can report whether they
// are currently able to accept a new dial.
type Prober interface {
	// Ready returns nil when the dialer can accept a new dial, and an error
	// describing why it can't otherwise. It never blocks.
	Ready() error
}
