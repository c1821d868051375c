//go:build linux
// +build linux

package ioobjects

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerAcceptConnectRoundTrip(t *testing.T) {
	ctx := newTestContext(t)

	ln, err := Listen(ctx, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	addr := ln.base.Addr().String()

	accepted := make(chan *Socket, 1)
	require.NoError(t, ln.Accept(func(s *Socket, err error) {
		require.NoError(t, err)
		accepted <- s
	}))

	client, err := Connect(ctx, "tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	connected := make(chan error, 1)
	require.NoError(t, client.WaitForConnected(func(err error) {
		connected <- err
	}))

	go func() { _ = ctx.Run() }()

	var server *Socket
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close()

	select {
	case err := <-connected:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
	}

	written := make(chan struct{})
	require.NoError(t, client.Write([]byte("ping"), func(n int, err error) {
		require.NoError(t, err)
		require.Equal(t, 4, n)
		close(written)
	}))
	select {
	case <-written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}

	readBuf := make([]byte, 4)
	read := make(chan struct{})
	require.NoError(t, server.Read(readBuf, func(n int, err error) {
		require.NoError(t, err)
		require.Equal(t, 4, n)
		close(read)
	}))
	select {
	case <-read:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read")
	}
	require.Equal(t, "ping", string(readBuf))
}
