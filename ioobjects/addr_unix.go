//go:build linux
// +build linux

package ioobjects

import "golang.org/x/sys/unix"

// AbstractUnixSockaddr builds the Sockaddr for a Linux abstract-namespace unix
// socket from a plain name: no filesystem path, no leading NUL to type in
// by hand. The kernel recognises the abstract-namespace convention by a
// leading NUL byte in sun_path, which AbstractUnixSockaddr supplies.
func AbstractUnixSockaddr(name string) *unix.SockaddrUnix {
	return &unix.SockaddrUnix{Name: "\x00" + name}
}
