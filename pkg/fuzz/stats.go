// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

import (
	"github.com/healer-fuzz/healer/pkg/stats"
)

// Stats groups the counters shared by all workers. Everything here is
// updated atomically from any worker; job 0 additionally owns the periodic
// snapshots.
type Stats struct {
	ExecTotal    *stats.Val
	ExecGenerate *stats.Val
	ExecMutate   *stats.Val
	ExecTime     *stats.Val

	Crashes       *stats.Val
	UniqueCrashes *stats.Val
	Repros        *stats.Val

	CoverMax        *stats.Val
	CoverCalibrated *stats.Val

	ModeSwitches *stats.Val
}

func NewStats(set *stats.Set) *Stats {
	return &Stats{
		ExecTotal:    set.Create("exec total", "Total program executions"),
		ExecGenerate: set.Create("exec gen", "Executions of freshly generated programs"),
		ExecMutate:   set.Create("exec mut", "Executions of mutated corpus inputs"),
		ExecTime:     set.Create("exec time", "Execution time distribution (ms)", stats.Distribution()),

		Crashes:       set.Create("crashes", "Total crash occurrences"),
		UniqueCrashes: set.Create("unique crashes", "Distinct crash signatures"),
		Repros:        set.Create("repro candidates", "Stored reproduction candidates"),

		CoverMax:        set.Create("max cover", "Branches in the global max coverage set"),
		CoverCalibrated: set.Create("calibrated cover", "Branches confirmed stable across runs"),

		ModeSwitches: set.Create("mode switches", "Sampling<->Mutation transitions across workers"),
	}
}
