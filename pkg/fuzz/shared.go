// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

import (
	"sync/atomic"

	"github.com/healer-fuzz/healer/pkg/cover"
	"github.com/healer-fuzz/healer/pkg/stats"
)

// SharedState is the only cross-worker mutable state. It is allocated once
// by the orchestrator and handed to every worker; no ambient globals, so
// tests can construct workers with isolated instances.
//
// Locking discipline: the coverage sets use a readers-writer lock, the
// crash table plain mutual exclusion; locks are held only for the duration
// of the set/map mutation, never across an execution call.
type SharedState struct {
	// MaxCover is the union of all branches ever observed by any worker.
	MaxCover *cover.Shared
	// CalibratedCover holds branches confirmed stable across repeated runs.
	CalibratedCover *cover.Shared

	Crashes *CrashTable

	Stats *stats.Set
	// Stop is the cooperative shutdown flag, polled by workers between
	// fuzzing iterations.
	Stop atomic.Bool
}

func NewSharedState(set *stats.Set) *SharedState {
	return &SharedState{
		MaxCover:        cover.NewShared(),
		CalibratedCover: cover.NewShared(),
		Crashes:         NewCrashTable(),
		Stats:           set,
	}
}
