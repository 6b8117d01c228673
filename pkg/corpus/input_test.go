// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/healer-fuzz/healer/pkg/prog"
)

func TestDistinctDegree(t *testing.T) {
	target := testTarget()
	callCnt := make(map[*prog.Syscall]int)
	inp := NewInput(makeProg(target, "open", "read"), nil)

	// Both calls unique in the corpus.
	callCnt[target.SyscallMap["open"]] = 1
	callCnt[target.SyscallMap["read"]] = 1
	inp.updateDistinctDegree(callCnt)
	assert.Equal(t, 100, inp.DistinctDegree)

	// open seen 4 times (25), read twice (50) -> ceil(75/2) = 38.
	callCnt[target.SyscallMap["open"]] = 4
	callCnt[target.SyscallMap["read"]] = 2
	inp.updateDistinctDegree(callCnt)
	assert.Equal(t, 38, inp.DistinctDegree)

	// Unknown counts are clamped to 1 rather than dividing by zero.
	inp2 := NewInput(makeProg(target, "getpid"), nil)
	inp2.updateDistinctDegree(map[*prog.Syscall]int{})
	assert.Equal(t, 100, inp2.DistinctDegree)
}

func TestScore(t *testing.T) {
	target := testTarget()
	inp := NewInput(makeProg(target, "open", "read"), nil)
	inp.NewCov = []uint64{1}
	inp.GainingRate = 10
	inp.DistinctDegree = 50
	inp.Depth = 1
	inp.ResCount = 1
	inp.ExecTime = 5

	// No averages yet: every positive metric contributes its full weight.
	inp.updateScore(emptyAvgs())
	assert.Equal(t, 40+30+20+10+10+10, inp.Score)

	// A runaway metric is capped at 3x its weight.
	avgs := emptyAvgs()
	avgs[AvgNewCov] = 1
	inp.NewCov = []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	inp.updateScore(avgs)
	assert.Equal(t, 3*40+30+20+10+10+10, inp.Score)

	// Fast execution is rewarded, also capped.
	avgs = emptyAvgs()
	avgs[AvgExecTime] = 100
	inp.NewCov = nil
	inp.GainingRate = 0
	inp.DistinctDegree = 0
	inp.Depth = 0
	inp.ResCount = 0
	inp.ExecTime = 1
	inp.updateScore(avgs)
	assert.Equal(t, 3*10, inp.Score)
}

func TestScoreFloor(t *testing.T) {
	inp := NewInput(makeProg(testTarget(), "getpid"), nil)
	avgs := emptyAvgs()
	avgs[AvgNewCov] = 100
	avgs[AvgGainingRate] = 100
	// Everything zero or far below average still scores at least 1.
	inp.updateScore(avgs)
	assert.GreaterOrEqual(t, inp.Score, 1)
}

func TestInputDescription(t *testing.T) {
	inp := NewInput(makeProg(testTarget(), "open", "read", "close"), nil)
	inp.Score = 7
	inp.Depth = 2
	desc := inp.Description()
	assert.Contains(t, desc, "score:7")
	assert.Contains(t, desc, "len:3")
	assert.Contains(t, desc, "dep:2")
	assert.Contains(t, desc, ",self")
	assert.NotContains(t, desc, ",fav")
	assert.NotContains(t, desc, ",nre")

	inp.Favored = true
	inp.FoundNewRe = true
	desc = inp.Description()
	assert.Contains(t, desc, ",fav")
	assert.Contains(t, desc, ",nre")
}

func TestExecMillis(t *testing.T) {
	assert.Equal(t, 1, ExecMillis(0))
	assert.Equal(t, 1, ExecMillis(300*time.Microsecond))
	assert.Equal(t, 25, ExecMillis(25*time.Millisecond))
}
