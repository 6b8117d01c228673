// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

// runRecord is one entry of a worker's short run history.
type runRecord struct {
	generated bool // fresh generated program vs mutated corpus input
	gained    bool // produced new coverage or a new crash signature
}

// runHistory is a bounded ring over the most recent runs; old entries are
// overwritten once the capacity is reached.
type runHistory struct {
	buf  []runRecord
	pos  int
	full bool
}

func newRunHistory(capacity int) *runHistory {
	return &runHistory{buf: make([]runRecord, capacity)}
}

func (h *runHistory) save(rec runRecord) {
	h.buf[h.pos] = rec
	h.pos++
	if h.pos == len(h.buf) {
		h.pos = 0
		h.full = true
	}
}

func (h *runHistory) len() int {
	if h.full {
		return len(h.buf)
	}
	return h.pos
}

// gainingRates returns the percentage of gaining runs per mode over the
// recorded window. A mode with no recorded runs reports 0.
func (h *runHistory) gainingRates() (gen, mut int) {
	genRuns, genGained, mutRuns, mutGained := 0, 0, 0, 0
	for i := 0; i < h.len(); i++ {
		rec := h.buf[i]
		if rec.generated {
			genRuns++
			if rec.gained {
				genGained++
			}
		} else {
			mutRuns++
			if rec.gained {
				mutGained++
			}
		}
	}
	if genRuns != 0 {
		gen = genGained * 100 / genRuns
	}
	if mutRuns != 0 {
		mut = mutGained * 100 / mutRuns
	}
	return gen, mut
}
