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
	"fmt"
	"os"
	"time"
)

// TimeoutError is returned when connection establishment exceeds the
// configured connect timeout. It satisfies net.Error and unwraps to
// os.ErrDeadlineExceeded, so callers can match it with errors.Is or apply
// timeout-specific retry policy via net.Error.Timeout().
type TimeoutError struct {
	// Op is the operation that timed out, eg. "dial".
	Op string
	// Address is the destination that was being dialed.
	Address string
	// Duration is the deadline that was exceeded.
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %s", e.Op, e.Address, e.Duration)
}

// Timeout satisfies net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Temporary satisfies net.Error. Timeouts are inherently retryable, but no
// retrying happens here; that's the caller's call to make.
func (e *TimeoutError) Temporary() bool { return true }

// Unwrap allows errors.Is(err, os.ErrDeadlineExceeded) to match.
func (e *TimeoutError) Unwrap() error { return os.ErrDeadlineExceeded }
