// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"github.com/healer-fuzz/healer/pkg/stats"
)

// Stats is the write-only handle through which a queue exports its
// counters. Queue internals are never read through it.
type Stats struct {
	Len            *stats.Val
	Favored        *stats.Val
	PendingFavored *stats.Val
	AvgScore       *stats.Val
	SelfContained  *stats.Val
	MaxDepth       *stats.Val
	Age            *stats.Val
	LastInput      *stats.Val
	LastCulling    *stats.Val
	CallsFuzzed    *stats.Val

	AvgExecTime *stats.Val
	AvgLen      *stats.Val
	AvgGaining  *stats.Val
	AvgDistinct *stats.Val
	AvgDepth    *stats.Val
	AvgSize     *stats.Val
	AvgAge      *stats.Val
	AvgNewCov   *stats.Val
}

func NewStats(set *stats.Set) *Stats {
	return &Stats{
		Len:            set.Create("queue len", "Number of inputs in the corpus queue"),
		Favored:        set.Create("queue favored", "Inputs that contributed new coverage at last evaluation"),
		PendingFavored: set.Create("queue pending favored", "Favored inputs not yet consumed for mutation"),
		AvgScore:       set.Create("queue score", "Average input score of the current generation"),
		SelfContained:  set.Create("queue self-contained", "Inputs not depending on externally created handles"),
		MaxDepth:       set.Create("queue max depth", "Deepest generation depth in the corpus"),
		Age:            set.Create("queue age", "Culling generation counter"),
		LastInput:      set.Create("last input", "Unix time of the last accepted input"),
		LastCulling:    set.Create("queue last culling", "Unix time of the last culling pass"),
		CallsFuzzed:    set.Create("calls fuzzed", "Distinct syscalls present in the corpus"),

		AvgExecTime: set.Create("avg exec time", "Rolling average execution time (ms)"),
		AvgLen:      set.Create("avg len", "Rolling average program length"),
		AvgGaining:  set.Create("avg gaining", "Rolling average gaining rate (percent)"),
		AvgDistinct: set.Create("avg distinct", "Rolling average distinct degree"),
		AvgDepth:    set.Create("avg depth", "Rolling average generation depth"),
		AvgSize:     set.Create("avg size", "Rolling average serialized size"),
		AvgAge:      set.Create("avg age", "Rolling average input age"),
		AvgNewCov:   set.Create("avg new cov", "Rolling average new-coverage count"),
	}
}
