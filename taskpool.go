//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
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

import (
	"github.com/panjf2000/ants/v2"

	"github.com/aio-go/aio/metrics"
)

var (
	maxRoutines = 0 // meaning INT32_MAX.
	sysPool, _  = ants.NewPoolWithFunc(maxRoutines, taskHandler)
	usrPool, _  = ants.NewPool(maxRoutines)
)

// taskHandler runs a fan-out callback dispatched by an ioobjects consumer
// (e.g. a Socket's accept handler) on sysPool, one goroutine per
// connection-level callback rather than inline on a worker driving Run.
func taskHandler(v any) {
	if fn, ok := v.(func()); ok {
		fn()
	}
}

// DispatchAsync submits fn to the internal system pool. ioobjects calls
// this to run a per-connection callback (Listener.Accept's completion) off the
// goroutine that is driving a context's Run loop, exactly mirroring the
// teacher's doTask/sysPool split between runtime-internal fan-out and
// user-exposed work: Submit is for user background tasks, DispatchAsync
// is for the runtime's own connection fan-out.
func DispatchAsync(fn func()) error {
	metrics.Add(metrics.TaskAssigned, 1)
	return sysPool.Invoke(fn)
}

// Submit submits a task to the default user background-work pool.
//
// Users can use this API to submit a task that should run off any
// goroutine driving a Context's Run loop, the same way tnet.Submit keeps
// user business logic off the I/O goroutines.
func Submit(task func()) error {
	return usrPool.Submit(task)
}
