// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package gen provides the baseline program generator and mutator. It is
// deliberately simple: uniform call choice with a light preference for
// calls whose resource inputs are already produced by the program built so
// far. Smarter, relation-learning generation plugs in behind the same two
// methods.
package gen

import (
	"math/rand"

	"github.com/healer-fuzz/healer/pkg/prog"
)

const (
	minProgLen = 2
	maxProgLen = 16

	// How many times call choice is retried looking for a call whose
	// consumed resource kinds are already produced.
	satisfyAttempts = 3
)

// Gen is stateless apart from the configuration; one instance may be shared
// by workers because all randomness comes through the per-call rnd.
type Gen struct{}

func New() *Gen {
	return &Gen{}
}

// Generate builds a fresh random program of minProgLen..maxProgLen calls.
func (g *Gen) Generate(rnd *rand.Rand, target *prog.Target) *prog.Prog {
	size := minProgLen + rnd.Intn(maxProgLen-minProgLen+1)
	p := &prog.Prog{Target: target}
	produced := make(map[string]bool)
	for len(p.Calls) < size {
		meta := chooseCall(rnd, target, produced)
		for _, kind := range meta.Produces {
			produced[kind] = true
		}
		p.Calls = append(p.Calls, &prog.Call{Meta: meta})
	}
	return p
}

// Mutate clones p and applies one of: insert a call, remove a call, replace
// a call, or splice a generated tail. The input program is never modified.
func (g *Gen) Mutate(rnd *rand.Rand, p *prog.Prog) *prog.Prog {
	mutated := p.Clone()
	target := mutated.Target
	op := rnd.Intn(4)
	// Degrade to replace when insert/remove would violate the length bounds.
	if op == 0 && len(mutated.Calls) >= maxProgLen || op == 1 && len(mutated.Calls) <= minProgLen {
		op = 2
	}
	switch op {
	case 0: // insert
		pos := rnd.Intn(len(mutated.Calls) + 1)
		call := &prog.Call{Meta: chooseCall(rnd, target, producedBefore(mutated, pos))}
		mutated.Calls = append(mutated.Calls, nil)
		copy(mutated.Calls[pos+1:], mutated.Calls[pos:])
		mutated.Calls[pos] = call
	case 1: // remove
		pos := rnd.Intn(len(mutated.Calls))
		mutated.Calls = append(mutated.Calls[:pos], mutated.Calls[pos+1:]...)
	case 2: // replace
		pos := rnd.Intn(len(mutated.Calls))
		mutated.Calls[pos] = &prog.Call{Meta: chooseCall(rnd, target, producedBefore(mutated, pos))}
	case 3: // splice a generated tail
		keep := rnd.Intn(len(mutated.Calls)) + 1
		mutated.Calls = mutated.Calls[:keep]
		tail := g.Generate(rnd, target)
		for _, c := range tail.Calls {
			if len(mutated.Calls) >= maxProgLen {
				break
			}
			mutated.Calls = append(mutated.Calls, c)
		}
	}
	return mutated
}

// chooseCall picks a random syscall, retrying a few times for one whose
// consumed resource kinds are all in produced.
func chooseCall(rnd *rand.Rand, target *prog.Target, produced map[string]bool) *prog.Syscall {
	var meta *prog.Syscall
	for attempt := 0; attempt < satisfyAttempts; attempt++ {
		meta = target.Syscalls[rnd.Intn(len(target.Syscalls))]
		if satisfied(meta, produced) {
			return meta
		}
	}
	return meta
}

func satisfied(meta *prog.Syscall, produced map[string]bool) bool {
	for _, kind := range meta.Consumes {
		if !produced[kind] {
			return false
		}
	}
	return true
}

func producedBefore(p *prog.Prog, pos int) map[string]bool {
	produced := make(map[string]bool)
	for _, c := range p.Calls[:pos] {
		for _, kind := range c.Meta.Produces {
			produced[kind] = true
		}
	}
	return produced
}
