package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectAllocatorPrefersAllocatorAware(t *testing.T) {
	custom := &fakeStorage{}
	wrapped := UseAllocator(func(Result) {}, custom)

	got := SelectAllocator(wrapped, DefaultStorage)

	assert.Same(t, custom, got)
}

func TestSelectAllocatorFallsBackToDefault(t *testing.T) {
	got := SelectAllocator(func(Result) {}, DefaultStorage)
	assert.Same(t, DefaultStorage, got)
}

func TestUseAllocatorPreservesContinuationValue(t *testing.T) {
	called := false
	f := func(Result) { called = true }
	wrapped := UseAllocator(f, DefaultStorage)

	wrapped.Value(Result{})

	assert.True(t, called)
}

func TestDefaultStorageRoundTrip(t *testing.T) {
	buf := DefaultStorage.Allocate(16)
	assert.Len(t, buf, 16)
	DefaultStorage.Free(buf)
}
