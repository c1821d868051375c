//go:build linux
// +build linux

package ioobjects

import (
	"sync"
	"time"

	"github.com/aio-go/aio"
	"github.com/aio-go/aio/internal/envelope"
)

// WaitForSignalWithTimeout races a Signal wait against a timeout: whichever
// resolves first cancels the other. completion runs exactly once, with
// gotSignal true only when the signal itself fired first; a timeout
// reports gotSignal false and a nil error.
//
// This is the composed-operation shape the underlying Envelope/Context
// wiring exists to support: two independently scheduled waits, a shared
// decision made by whichever completes first, the loser cancelled rather
// than left to fire uselessly later.
func WaitForSignalWithTimeout(ctx *aio.Context, sig *Signal, d time.Duration, completion func(info envelope.SignalInfo, gotSignal bool, err error)) error {
	timer, err := NewTimer(ctx)
	if err != nil {
		return err
	}

	var once sync.Once
	finish := func(info envelope.SignalInfo, gotSignal bool, err error) {
		once.Do(func() {
			_ = timer.Close()
			completion(info, gotSignal, err)
		})
	}

	if err := sig.WaitForSignal(func(info envelope.SignalInfo, err error) {
		if isCancelled(err) {
			return
		}
		_, _ = timer.Cancel()
		finish(info, true, err)
	}); err != nil {
		_ = timer.Close()
		return err
	}

	if err := timer.WaitForExpiryAfter(d, func(err error) {
		if isCancelled(err) {
			return
		}
		_, _ = sig.Cancel()
		finish(envelope.SignalInfo{}, false, nil)
	}); err != nil {
		_, _ = sig.Cancel()
		_ = timer.Close()
		return err
	}
	return nil
}

func isCancelled(err error) bool {
	aerr, ok := err.(*aio.Error)
	return ok && aerr.Kind == aio.Cancelled
}
