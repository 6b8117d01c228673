// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunHistoryRates(t *testing.T) {
	h := newRunHistory(16)
	gen, mut := h.gainingRates()
	assert.Equal(t, 0, gen)
	assert.Equal(t, 0, mut)

	// 4 generated runs, 1 gained; 4 mutated runs, 3 gained.
	for i := 0; i < 4; i++ {
		h.save(runRecord{generated: true, gained: i == 0})
		h.save(runRecord{generated: false, gained: i != 0})
	}
	gen, mut = h.gainingRates()
	assert.Equal(t, 25, gen)
	assert.Equal(t, 75, mut)
}

func TestRunHistoryWindow(t *testing.T) {
	h := newRunHistory(8)
	// Fill the window with gaining generated runs, then overwrite it
	// entirely with non-gaining mutated runs.
	for i := 0; i < 8; i++ {
		h.save(runRecord{generated: true, gained: true})
	}
	assert.Equal(t, 8, h.len())
	for i := 0; i < 8; i++ {
		h.save(runRecord{generated: false, gained: false})
	}
	assert.Equal(t, 8, h.len())
	gen, mut := h.gainingRates()
	assert.Equal(t, 0, gen) // old generated runs fell out of the window
	assert.Equal(t, 0, mut)
}
