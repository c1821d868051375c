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

// Package metrics provides runtime monitoring counters for the aio
// scheduler and context, such as how many epoll_pwait calls were made
// without blocking and how many envelopes were scheduled, dispatched and
// cancelled, which is a good tool for performance tuning.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Envelope lifecycle metrics
	EnvelopesScheduled = iota
	EnvelopesDispatched
	EnvelopesDiscarded
	EnvelopesCancelled

	// Epoll metrics
	EpollWait
	EpollNoWait
	EpollEvents

	// Wake / work metrics
	WakeTriggers
	TaskAssigned
	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	new := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = new[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	fmt.Println("######### aio metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showEnvelopeMetrics(m)
	showEpollMetrics(m)
	fmt.Printf("%-59s: %d\n", "# number of user tasks submitted", m[TaskAssigned])
	fmt.Printf("\n")
}

func showEnvelopeMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# number of envelopes scheduled", m[EnvelopesScheduled])
	fmt.Printf("%-59s: %d\n", "# number of envelopes dispatched", m[EnvelopesDispatched])
	fmt.Printf("%-59s: %d\n", "# number of envelopes discarded", m[EnvelopesDiscarded])
	fmt.Printf("%-59s: %d\n", "# number of envelopes cancelled", m[EnvelopesCancelled])
	fmt.Printf("%-59s: %d\n", "# number of wake event triggers", m[WakeTriggers])
}

func showEpollMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# EPOLL - number of epoll_wait returns (tag:b)", m[EpollWait])
	fmt.Printf("%-59s: %d\n", "# EPOLL - number of epoll_wait called with msc=0 (tag:a)", m[EpollNoWait])
	fmt.Printf("%-59s: %d\n", "# EPOLL - number of total events", m[EpollEvents])
	if (m[EpollWait]) > 0 {
		fmt.Printf("%-59s: %.2f%%\n", "# EPOLL - a/b * 100%", float32(m[EpollNoWait])*100/float32(m[EpollWait]))
		fmt.Printf("%-59s: %.2f\n", "# EPOLL - average events number per epoll_wait",
			float32(m[EpollEvents])/float32(m[EpollWait]))
	}
}
