// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzz contains the per-job worker loop, the cross-worker shared
// state and the orchestrator that spawns and joins the workers.
package fuzz

import (
	"math/rand"
	"time"

	"github.com/healer-fuzz/healer/pkg/corpus"
	"github.com/healer-fuzz/healer/pkg/log"
	"github.com/healer-fuzz/healer/pkg/prog"
)

// Executor runs a program inside the isolated target environment and
// reports per-call coverage. The backend is external to this core: a
// failure is fatal to the owning worker, no reconnection is attempted.
type Executor interface {
	Exec(p *prog.Prog) (*ExecResult, error)
	Close() error
}

type CallResult struct {
	Branches []uint64
	Errno    int
}

type ExecResult struct {
	Calls    []CallResult
	ExecTime time.Duration
	ResCount int

	Crashed  bool
	CrashSig string
	Report   []byte
}

// Generator produces fresh programs and mutated variants. The algorithm is
// external; the worker only decides when to invoke which.
type Generator interface {
	Generate(rnd *rand.Rand, target *prog.Target) *prog.Prog
	Mutate(rnd *rand.Rand, p *prog.Prog) *prog.Prog
}

// Mode is the worker's run mode: prefer generating fresh programs
// (Sampling) or mutating queued inputs (Mutation).
type Mode int

const (
	ModeSampling Mode = iota
	ModeMutation
)

func (m Mode) String() string {
	if m == ModeSampling {
		return "sampling"
	}
	return "mutation"
}

const (
	// Runs between mode re-evaluations; also the run-history window.
	defaultCycleLen = 128
	// Percent of iterations spent on the currently non-preferred mode so
	// that neither generation nor mutation ever starves.
	baselineRate = 20
)

// Fuzzer is one fuzzing job. It exclusively owns its queue and target
// instance; everything cross-worker goes through shared.
type Fuzzer struct {
	id     int
	shared *SharedState
	stats  *Stats
	target *prog.Target
	queue  *corpus.Queue
	exec   Executor
	gen    Generator
	rnd    *rand.Rand

	history    *runHistory
	mode       Mode
	genGaining int
	mutGaining int
	cycleLen   int
	runs       int
}

func NewFuzzer(id int, shared *SharedState, fstats *Stats, target *prog.Target,
	queue *corpus.Queue, exec Executor, gen Generator, rnd *rand.Rand) *Fuzzer {
	return &Fuzzer{
		id:       id,
		shared:   shared,
		stats:    fstats,
		target:   target,
		queue:    queue,
		exec:     exec,
		gen:      gen,
		rnd:      rnd,
		history:  newRunHistory(defaultCycleLen),
		mode:     ModeSampling,
		cycleLen: defaultCycleLen,
	}
}

// Loop runs fuzzing iterations until the shared stop flag is observed;
// the flag is checked between iterations only, in-flight executions are
// never interrupted.
func (f *Fuzzer) Loop() {
	for !f.shared.Stop.Load() {
		f.iterate()
	}
	if err := f.exec.Close(); err != nil {
		log.Logf(0, "fuzzer-%v: failed to close execution backend: %v", f.id, err)
	}
	log.Logf(1, "fuzzer-%v: stopped after %v runs", f.id, f.runs)
}

func (f *Fuzzer) iterate() {
	f.runs++
	if f.runs%f.cycleLen == 0 {
		f.updateMode()
	}

	generate := f.queue.Empty() || f.mode == ModeSampling
	if !f.queue.Empty() && f.rnd.Intn(100) < baselineRate {
		generate = !generate
	}

	var p *prog.Prog
	depth := 0
	if generate {
		p = f.gen.Generate(f.rnd, f.target)
		f.stats.ExecGenerate.Add(1)
	} else {
		inp := f.queue.Select(true)
		p = f.gen.Mutate(f.rnd, inp.P)
		depth = inp.Depth + 1
		f.stats.ExecMutate.Add(1)
	}

	res, err := f.exec.Exec(p)
	if err != nil {
		// A worker cannot usefully continue without its execution channel.
		log.Fatalf("fuzzer-%v: execution backend failed: %v", f.id, err)
	}
	f.stats.ExecTotal.Add(1)
	f.stats.ExecTime.Record(float64(corpus.ExecMillis(res.ExecTime)))

	gained := f.triage(p, res, depth)
	f.history.save(runRecord{generated: generate, gained: gained})
	if gained {
		if generate {
			f.genGaining++
		} else {
			f.mutGaining++
		}
	}
}

// updateMode flips the worker towards whichever mode demonstrated a higher
// recent gaining rate and resets the per-cycle counters.
func (f *Fuzzer) updateMode() {
	genRate, mutRate := f.history.gainingRates()
	prev := f.mode
	if mutRate >= genRate && !f.queue.Empty() {
		f.mode = ModeMutation
	} else {
		f.mode = ModeSampling
	}
	if f.mode != prev {
		f.stats.ModeSwitches.Add(1)
		log.Logf(2, "fuzzer-%v: mode %v -> %v (gen %v%%, mut %v%%, cycle gains %v/%v)",
			f.id, prev, f.mode, genRate, mutRate, f.genGaining, f.mutGaining)
	}
	f.genGaining, f.mutGaining = 0, 0
}

// triage merges the run's branches into the shared max set, records any
// crash, and appends the program to the queue when it turned out
// interesting. Returns whether the run gained anything.
func (f *Fuzzer) triage(p *prog.Prog, res *ExecResult, depth int) bool {
	info := make([]corpus.CallInfo, len(res.Calls))
	var branches []uint64
	for i, call := range res.Calls {
		info[i] = corpus.CallInfo{Branches: call.Branches, Errno: call.Errno}
		branches = append(branches, call.Branches...)
	}

	newCov := f.shared.MaxCover.MergeDiff(branches)
	if len(newCov) != 0 {
		f.stats.CoverMax.Set(int64(f.shared.MaxCover.Len()))
		f.calibrate(p, branches)
	}

	foundRe := false
	if res.Crashed {
		f.stats.Crashes.Add(1)
		if f.shared.Crashes.Record(f.id, res.CrashSig, res.Report, p.Serialize()) {
			foundRe = true
			f.stats.UniqueCrashes.Add(1)
			f.stats.Repros.Add(1)
			log.Logf(0, "fuzzer-%v: new crash signature: %v", f.id, res.CrashSig)
		}
	}

	if len(newCov) == 0 && !foundRe {
		return false
	}

	genRate, mutRate := f.history.gainingRates()
	gainingRate := genRate
	if f.mode == ModeMutation {
		gainingRate = mutRate
	}
	inp := corpus.NewInput(p, info)
	inp.Favored = len(newCov) != 0
	inp.FoundNewRe = foundRe
	inp.NewCov = newCov
	inp.Depth = depth
	inp.ExecTime = corpus.ExecMillis(res.ExecTime)
	inp.ResCount = res.ResCount
	inp.GainingRate = gainingRate
	f.queue.Append(inp)
	return true
}

// calibrate re-executes a program that contributed new max coverage and
// admits only branches observed in both runs into the calibrated set.
func (f *Fuzzer) calibrate(p *prog.Prog, firstRun []uint64) {
	res, err := f.exec.Exec(p)
	if err != nil {
		log.Fatalf("fuzzer-%v: execution backend failed during calibration: %v", f.id, err)
	}
	seen := make(map[uint64]bool, len(firstRun))
	for _, br := range firstRun {
		seen[br] = true
	}
	var stable []uint64
	for _, call := range res.Calls {
		for _, br := range call.Branches {
			if seen[br] {
				stable = append(stable, br)
			}
		}
	}
	if len(stable) != 0 {
		f.shared.CalibratedCover.MergeDiff(stable)
		f.stats.CoverCalibrated.Set(int64(f.shared.CalibratedCover.Len()))
	}
}
