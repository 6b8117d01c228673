// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"

	"github.com/healer-fuzz/healer/pkg/prog"
)

// CallInfo is the recorded execution info for one call of an accepted input.
type CallInfo struct {
	Branches []uint64
	Errno    int
}

// Input is one accepted test case together with its measured run metadata
// and queue-assigned bookkeeping. The program is immutable once accepted;
// derived metrics are set at append time and recomputed at culling.
type Input struct {
	P    *prog.Prog
	Info []CallInfo

	Favored       bool
	FoundNewRe    bool
	SelfContained bool
	WasMutated    bool

	Score          int
	GainingRate    int // percent of recent runs of the producing mode that gained
	DistinctDegree int
	Depth          int
	Len            int
	Sz             int
	ExecTime       int // milliseconds
	ResCount       int
	Age            int // culling generations survived
	NewCov         []uint64
}

// NewInput derives the static metrics from the program itself; the caller
// fills in the run metadata.
func NewInput(p *prog.Prog, info []CallInfo) *Input {
	return &Input{
		P:             p,
		Info:          info,
		Len:           p.Len(),
		Sz:            p.Size(),
		SelfContained: p.SelfContained(),
	}
}

// updateDistinctDegree recomputes the call-type diversity of the input
// relative to the corpus-wide call counts: 100 means every call is unique
// in the corpus, values drop as its calls become common.
func (inp *Input) updateDistinctDegree(callCnt map[*prog.Syscall]int) {
	if len(inp.P.Calls) == 0 {
		inp.DistinctDegree = 0
		return
	}
	sum := 0
	for _, c := range inp.P.Calls {
		cnt := callCnt[c.Meta]
		if cnt < 1 {
			cnt = 1
		}
		sum += 100 / cnt
	}
	inp.DistinctDegree = ceilDiv(sum, len(inp.P.Calls))
}

// Score weights, roughly ordered by how much each signal tells us about an
// input's future usefulness for mutation.
const (
	weightNewCov   = 40
	weightGaining  = 30
	weightDistinct = 20
	weightDepth    = 10
	weightResCnt   = 10
	weightExecTime = 10
)

// updateScore recomputes the composite fitness from the queue's rolling
// averages. Each metric contributes its weight scaled by how the input
// compares to the corpus average, capped so that a single runaway metric
// cannot dominate the score sheet. The result is always >= 1 so weighted
// selection never degenerates to an all-zero set.
func (inp *Input) updateScore(avgs map[AvgKind]int) {
	score := aboveAvg(len(inp.NewCov), avgs[AvgNewCov], weightNewCov) +
		aboveAvg(inp.GainingRate, avgs[AvgGainingRate], weightGaining) +
		aboveAvg(inp.DistinctDegree, avgs[AvgDistinctDegree], weightDistinct) +
		aboveAvg(inp.Depth, avgs[AvgDepth], weightDepth) +
		aboveAvg(inp.ResCount, avgs[AvgResCount], weightResCnt) +
		belowAvg(inp.ExecTime, avgs[AvgExecTime], weightExecTime)
	if score < 1 {
		score = 1
	}
	inp.Score = score
}

// aboveAvg rewards values above the corpus average, capped at 3x weight.
func aboveAvg(val, avg, weight int) int {
	if val <= 0 {
		return 0
	}
	if avg <= 0 {
		return weight
	}
	s := weight * val / avg
	if s > 3*weight {
		s = 3 * weight
	}
	return s
}

// belowAvg rewards values below the corpus average (lower is better).
func belowAvg(val, avg, weight int) int {
	if avg <= 0 {
		return weight
	}
	if val <= 0 {
		val = 1
	}
	s := weight * avg / val
	if s > 3*weight {
		s = 3 * weight
	}
	return s
}

// Description is the input's tag used as its file name in persisted queue
// snapshots.
func (inp *Input) Description() string {
	sig := sha1.Sum(inp.P.Serialize())
	var b strings.Builder
	fmt.Fprintf(&b, "sig:%x,score:%d,len:%d,dep:%d,cov:%d",
		sig[:8], inp.Score, inp.Len, inp.Depth, len(inp.NewCov))
	if inp.Favored {
		b.WriteString(",fav")
	}
	if inp.FoundNewRe {
		b.WriteString(",nre")
	}
	if inp.SelfContained {
		b.WriteString(",self")
	}
	return b.String()
}

// ExecMillis converts an execution duration to the integer milliseconds
// stored on inputs; sub-millisecond runs count as 1.
func ExecMillis(d time.Duration) int {
	ms := int(d.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return ms
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
