// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dial_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/noisysockets/dial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnReadTimeout(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := dial.NewConn(local)
	conn.SetReadTimeout(50 * time.Millisecond)

	// The peer never sends anything.
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.Error(t, err)

	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestConnReadTimelyData(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := dial.NewConn(local)
	conn.SetReadTimeout(time.Second)

	go func() {
		_, _ = remote.Write([]byte{'a'})
	}()

	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, byte('a'), buf[0])
}

func TestConnWriteTimeout(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := dial.NewConn(local)
	conn.SetWriteTimeout(50 * time.Millisecond)

	// The peer never reads, so the write can make no progress.
	_, err := conn.Write([]byte("hello"))
	require.Error(t, err)

	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestConnIndependentTimeouts(t *testing.T) {
	t.Run("ReadTimeoutDoesNotBoundWrites", func(t *testing.T) {
		local, remote := net.Pipe()
		t.Cleanup(func() {
			_ = local.Close()
			_ = remote.Close()
		})

		conn := dial.NewConn(local)
		conn.SetReadTimeout(50 * time.Millisecond)

		go func() {
			buf := make([]byte, 64)
			for {
				if _, err := remote.Read(buf); err != nil {
					return
				}
			}
		}()

		// Well past the read timeout.
		time.Sleep(150 * time.Millisecond)

		_, err := conn.Write([]byte("hello"))
		require.NoError(t, err)
	})

	t.Run("WriteTimeoutDoesNotBoundReads", func(t *testing.T) {
		local, remote := net.Pipe()
		t.Cleanup(func() {
			_ = local.Close()
			_ = remote.Close()
		})

		conn := dial.NewConn(local)
		conn.SetWriteTimeout(50 * time.Millisecond)

		go func() {
			time.Sleep(150 * time.Millisecond)

			_, _ = remote.Write([]byte{'a'})
		}()

		buf := make([]byte, 1)
		n, err := conn.Read(buf)
		require.NoError(t, err)

		assert.Equal(t, 1, n)
	})
}

func TestConnFreshTimeoutPerRead(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := dial.NewConn(local)
	conn.SetReadTimeout(200 * time.Millisecond)

	// Each byte arrives just inside the timeout; the two reads together take
	// longer than a single timeout, which only passes if every read gets a
	// fresh budget.
	go func() {
		for i := 0; i < 2; i++ {
			time.Sleep(150 * time.Millisecond)

			if _, err := remote.Write([]byte{byte('a' + i)}); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 1)

	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnDisableTimeout(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := dial.NewConn(local)
	conn.SetReadTimeout(25 * time.Millisecond)

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// Disabling the timeout must also clear the previously armed deadline.
	conn.SetReadTimeout(0)

	go func() {
		time.Sleep(100 * time.Millisecond)

		_, _ = remote.Write([]byte{'a'})
	}()

	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnEOFPassthrough(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
	})

	conn := dial.NewConn(local)
	conn.SetReadTimeout(time.Second)

	require.NoError(t, remote.Close())

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnInnerErrorPassthrough(t *testing.T) {
	errBroken := fmt.Errorf("broken transport")

	conn := dial.NewConn(&faultyConn{err: errBroken})
	conn.SetReadTimeout(time.Second)

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.Error(t, err)

	assert.ErrorIs(t, err, errBroken)
	assert.NotErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestConnAccessors(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := dial.NewConn(local)

	assert.Zero(t, conn.ReadTimeout())
	assert.Zero(t, conn.WriteTimeout())

	conn.SetReadTimeout(time.Second)
	conn.SetWriteTimeout(2 * time.Second)

	assert.Equal(t, time.Second, conn.ReadTimeout())
	assert.Equal(t, 2*time.Second, conn.WriteTimeout())

	assert.Same(t, local, conn.NetConn())
}

func TestConnReadFrom(t *testing.T) {
	t.Run("ForwardsToReaderFrom", func(t *testing.T) {
		inner := &readerFromConn{}
		conn := dial.NewConn(inner)
		conn.SetWriteTimeout(time.Second)

		// Arm a write deadline first; the forwarded transfer must not run
		// under it.
		_, err := conn.Write([]byte("x"))
		require.NoError(t, err)
		require.NotEmpty(t, inner.writeDeadlines)
		require.False(t, inner.writeDeadlines[len(inner.writeDeadlines)-1].IsZero())

		n, err := conn.ReadFrom(strings.NewReader("hello"))
		require.NoError(t, err)

		assert.Equal(t, int64(5), n)
		assert.Equal(t, "xhello", inner.buf.String())

		// The armed deadline was cleared before forwarding.
		assert.True(t, inner.writeDeadlines[len(inner.writeDeadlines)-1].IsZero())
	})

	t.Run("FallsBackToWrite", func(t *testing.T) {
		local, remote := net.Pipe()
		t.Cleanup(func() {
			_ = local.Close()
			_ = remote.Close()
		})

		// net.Pipe has no vectored transfer, so the data goes through Write
		// and stays bounded by the write timeout.
		conn := dial.NewConn(local)
		conn.SetWriteTimeout(50 * time.Millisecond)

		_, err := conn.ReadFrom(strings.NewReader("hello"))
		require.Error(t, err)

		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	})
}

func TestConnCloseRead(t *testing.T) {
	t.Run("Supported", func(t *testing.T) {
		inner := &halfCloseConn{}
		conn := dial.NewConn(inner)

		require.NoError(t, conn.CloseRead())
		assert.True(t, inner.readClosed)
	})

	t.Run("Unsupported", func(t *testing.T) {
		local, remote := net.Pipe()
		t.Cleanup(func() {
			_ = local.Close()
			_ = remote.Close()
		})

		conn := dial.NewConn(local)

		assert.ErrorIs(t, conn.CloseRead(), errors.ErrUnsupported)
	})
}

func TestConnCloseWrite(t *testing.T) {
	t.Run("Supported", func(t *testing.T) {
		inner := &halfCloseConn{}
		conn := dial.NewConn(inner)

		require.NoError(t, conn.CloseWrite())
		assert.True(t, inner.writeClosed)
	})

	t.Run("Unsupported", func(t *testing.T) {
		local, remote := net.Pipe()
		t.Cleanup(func() {
			_ = local.Close()
			_ = remote.Close()
		})

		conn := dial.NewConn(local)

		assert.ErrorIs(t, conn.CloseWrite(), errors.ErrUnsupported)
	})
}

// faultyConn fails every read and write with a fixed error.
type faultyConn struct {
	net.Conn
	err error
}

func (c *faultyConn) Read(b []byte) (int, error)         { return 0, c.err }
func (c *faultyConn) Write(b []byte) (int, error)        { return 0, c.err }
func (c *faultyConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *faultyConn) SetWriteDeadline(t time.Time) error { return nil }

// halfCloseConn records CloseRead and CloseWrite calls.
type halfCloseConn struct {
	net.Conn
	readClosed  bool
	writeClosed bool
}

func (c *halfCloseConn) CloseRead() error {
	c.readClosed = true
	return nil
}

func (c *halfCloseConn) CloseWrite() error {
	c.writeClosed = true
	return nil
}

// readerFromConn supports vectored transfer and records the write deadlines
// set on it.
type readerFromConn struct {
	net.Conn
	buf            bytes.Buffer
	writeDeadlines []time.Time
}

func (c *readerFromConn) Write(b []byte) (int, error) {
	return c.buf.Write(b)
}

func (c *readerFromConn) ReadFrom(r io.Reader) (int64, error) {
	return c.buf.ReadFrom(r)
}

func (c *readerFromConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadlines = append(c.writeDeadlines, t)
	return nil
}
