//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

//go:build linux
// +build linux

package aio

import "github.com/aio-go/aio/internal/envelope"

const defaultMaxEpollBatch = 64

// Option configures a Context at construction time.
type Option struct {
	f func(*options)
}

type options struct {
	workers                 int
	ignoreContinuationError bool
	storage                 envelope.Storage
	maxEpollBatch           int
}

func (o *options) setDefault() {
	o.workers = 1
	o.storage = envelope.DefaultStorage
	o.maxEpollBatch = defaultMaxEpollBatch
}

// WithWorkers sets the number of goroutines a call to Serve spreads across.
// Each worker runs its own RunOnce loop against the same completion queue;
// the default is a single worker, matching a single-threaded reactor.
func WithWorkers(n int) Option {
	return Option{func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}}
}

// WithIgnoreContinuationError sets whether a panic escaping a
// continuation is logged and swallowed (true) rather than propagated out
// of RunOnce/Run (false, the default). Swallowing trades the "user panics
// propagate" contract for forward progress in servers that would rather
// log-and-continue than go down on a single bad handler.
func WithIgnoreContinuationError(ignore bool) Option {
	return Option{func(o *options) {
		o.ignoreContinuationError = ignore
	}}
}

// WithStorage sets the Context's default Storage, which Timer waits draw
// their buffer from unless a per-wait ioobjects.WithStorage option
// overrides it. Continuations wrapped with UseAllocator are not consulted.
func WithStorage(storage envelope.Storage) Option {
	return Option{func(o *options) {
		if storage != nil {
			o.storage = storage
		}
	}}
}

// WithMaxEpollBatch sets the maximum number of readiness events the
// scheduler requests from a single epoll_pwait call.
func WithMaxEpollBatch(n int) Option {
	return Option{func(o *options) {
		if n > 0 {
			o.maxEpollBatch = n
		}
	}}
}
