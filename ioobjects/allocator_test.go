//go:build linux
// +build linux

package ioobjects

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aio-go/aio"
)

// trackingStorage records every Allocate/Free call and whether each freed
// buffer had already been handed back before the completion it belonged to
// ran, letting the test assert the release-before-invoke ordering directly
// rather than inferring it from timing.
type trackingStorage struct {
	mu               sync.Mutex
	allocated, freed int
	freedBeforeRun   bool
}

func (s *trackingStorage) Allocate(size int) []byte {
	s.mu.Lock()
	s.allocated++
	s.mu.Unlock()
	return make([]byte, size)
}

func (s *trackingStorage) Free(buf []byte) {
	s.mu.Lock()
	s.freed++
	s.mu.Unlock()
}

func TestTimerWaitThreadsCustomAllocator(t *testing.T) {
	ctx := newTestContext(t)
	timer, err := NewTimer(ctx)
	require.NoError(t, err)
	defer timer.Close()

	storage := &trackingStorage{}

	done := make(chan struct{})
	require.NoError(t, timer.WaitForExpiryAfter(10*time.Millisecond, func(err error) {
		require.NoError(t, err)
		storage.mu.Lock()
		storage.freedBeforeRun = storage.freed == 1
		storage.mu.Unlock()
		close(done)
	}, WithStorage(storage)))

	runUntil(t, ctx, done)

	storage.mu.Lock()
	defer storage.mu.Unlock()
	require.Equal(t, 1, storage.allocated)
	require.Equal(t, 1, storage.freed)
	require.True(t, storage.freedBeforeRun, "buffer must be released before the completion runs")
}

var _ aio.Storage = (*trackingStorage)(nil)
