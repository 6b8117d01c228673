// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzz

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healer-fuzz/healer/pkg/corpus"
	"github.com/healer-fuzz/healer/pkg/prog"
	"github.com/healer-fuzz/healer/pkg/stats"
	"github.com/healer-fuzz/healer/pkg/testutil"
)

func testTarget() *prog.Target {
	return prog.MakeTarget("test", "64", []*prog.Syscall{
		{Name: "open", Produces: []string{"fd"}},
		{Name: "read", Consumes: []string{"fd"}},
		{Name: "close", Consumes: []string{"fd"}},
		{Name: "getpid"},
	})
}

// fakeExec scripts the execution backend: handler receives the 1-based
// execution counter and the program.
type fakeExec struct {
	execs   int
	closed  bool
	handler func(execs int, p *prog.Prog) *ExecResult
}

func (e *fakeExec) Exec(p *prog.Prog) (*ExecResult, error) {
	e.execs++
	return e.handler(e.execs, p), nil
}

func (e *fakeExec) Close() error {
	e.closed = true
	return nil
}

// flatResult reports the given branches on the first call, empty coverage
// on the rest.
func flatResult(p *prog.Prog, branches ...uint64) *ExecResult {
	res := &ExecResult{
		Calls:    make([]CallResult, len(p.Calls)),
		ExecTime: 100 * time.Microsecond,
		ResCount: 1,
	}
	if len(res.Calls) != 0 {
		res.Calls[0].Branches = branches
	}
	return res
}

type fakeGen struct{}

func (fakeGen) Generate(rnd *rand.Rand, target *prog.Target) *prog.Prog {
	p := &prog.Prog{Target: target}
	for i := 0; i < 1+rnd.Intn(3); i++ {
		p.Calls = append(p.Calls, &prog.Call{Meta: target.Syscalls[rnd.Intn(len(target.Syscalls))]})
	}
	return p
}

func (fakeGen) Mutate(rnd *rand.Rand, p *prog.Prog) *prog.Prog {
	return p.Clone()
}

func testFuzzer(t *testing.T, exec Executor) *Fuzzer {
	set := stats.NewSet(nil)
	rnd := rand.New(testutil.RandSource(t))
	queue := corpus.NewQueue(0, rnd, "")
	return NewFuzzer(0, NewSharedState(set), NewStats(set), testTarget(), queue, exec, fakeGen{}, rnd)
}

func TestTriage(t *testing.T) {
	exec := &fakeExec{handler: func(execs int, p *prog.Prog) *ExecResult {
		// Calibration re-runs reproduce the same coverage.
		return flatResult(p, 1, 2)
	}}
	f := testFuzzer(t, exec)
	p := fakeGen{}.Generate(f.rnd, f.target)

	assert.True(t, f.triage(p, flatResult(p, 1, 2), 0))
	assert.Equal(t, 1, f.queue.Len())
	inp := f.queue.Input(0)
	assert.True(t, inp.Favored)
	assert.Equal(t, []uint64{1, 2}, inp.NewCov)
	// New coverage triggered exactly one calibration run, and both branches
	// were stable across it.
	assert.Equal(t, 1, exec.execs)
	assert.Equal(t, 2, f.shared.CalibratedCover.Len())

	// Same coverage again: nothing gained, nothing appended, no calibration.
	assert.False(t, f.triage(p, flatResult(p, 1, 2), 0))
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, 1, exec.execs)
}

func TestTriageCalibrationIntersection(t *testing.T) {
	// The re-run reports branch 2 plus noise; only 2 is stable.
	exec := &fakeExec{handler: func(execs int, p *prog.Prog) *ExecResult {
		return flatResult(p, 2, 99)
	}}
	f := testFuzzer(t, exec)
	p := fakeGen{}.Generate(f.rnd, f.target)

	assert.True(t, f.triage(p, flatResult(p, 1, 2), 0))
	assert.Equal(t, 2, f.shared.MaxCover.Len())
	assert.Equal(t, []uint64{2}, f.shared.CalibratedCover.Snapshot())
}

func TestTriageCrash(t *testing.T) {
	exec := &fakeExec{handler: func(execs int, p *prog.Prog) *ExecResult {
		return flatResult(p)
	}}
	f := testFuzzer(t, exec)
	p := fakeGen{}.Generate(f.rnd, f.target)

	res := flatResult(p)
	res.Crashed = true
	res.CrashSig = "use-after-free in foo"
	res.Report = []byte("stack trace")

	// No new coverage, but a new signature is a gain.
	assert.True(t, f.triage(p, res, 1))
	assert.Equal(t, 1, f.queue.Len())
	inp := f.queue.Input(0)
	assert.True(t, inp.FoundNewRe)
	assert.False(t, inp.Favored)
	assert.Equal(t, 1, inp.Depth)

	// A repeat of the same signature is not.
	assert.False(t, f.triage(p, res, 1))
	assert.Equal(t, 1, f.queue.Len())
	total, unique := f.shared.Crashes.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, unique)
}

func TestUpdateMode(t *testing.T) {
	exec := &fakeExec{handler: func(execs int, p *prog.Prog) *ExecResult {
		return flatResult(p)
	}}
	f := testFuzzer(t, exec)
	require.Equal(t, ModeSampling, f.mode)

	// Mutation gains more, but an empty queue pins the worker to sampling.
	for i := 0; i < 32; i++ {
		f.history.save(runRecord{generated: false, gained: true})
		f.history.save(runRecord{generated: true, gained: false})
	}
	f.updateMode()
	assert.Equal(t, ModeSampling, f.mode)

	inp := corpus.NewInput(fakeGen{}.Generate(f.rnd, f.target), nil)
	inp.ExecTime = 1
	f.queue.Append(inp)
	f.updateMode()
	assert.Equal(t, ModeMutation, f.mode)
	assert.Equal(t, int64(1), f.stats.ModeSwitches.Val())

	// Generation overtakes: back to sampling.
	for i := 0; i < 128; i++ {
		f.history.save(runRecord{generated: true, gained: true})
	}
	f.updateMode()
	assert.Equal(t, ModeSampling, f.mode)
	assert.Equal(t, int64(2), f.stats.ModeSwitches.Val())
}

func TestIterate(t *testing.T) {
	var branch uint64
	exec := &fakeExec{handler: func(execs int, p *prog.Prog) *ExecResult {
		// Every 10th run discovers one fresh branch.
		if execs%10 == 0 {
			branch++
			return flatResult(p, branch)
		}
		return flatResult(p)
	}}
	f := testFuzzer(t, exec)
	for i := 0; i < 500; i++ {
		f.iterate()
	}
	assert.Equal(t, int64(500), f.stats.ExecTotal.Val())
	assert.Greater(t, f.queue.Len(), 0)
	assert.Greater(t, f.shared.MaxCover.Len(), 0)
	assert.Equal(t, int64(f.shared.MaxCover.Len()), f.stats.CoverMax.Val())
	// Every iteration was either a generation or a mutation.
	assert.Equal(t, int64(500), f.stats.ExecGenerate.Val()+f.stats.ExecMutate.Val())
}
