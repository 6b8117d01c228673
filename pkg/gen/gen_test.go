// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package gen

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/healer-fuzz/healer/pkg/prog"
	"github.com/healer-fuzz/healer/pkg/testutil"
)

func testTarget() *prog.Target {
	return prog.MakeTarget("test", "64", []*prog.Syscall{
		{Name: "open", Produces: []string{"fd"}},
		{Name: "read", Consumes: []string{"fd"}},
		{Name: "write", Consumes: []string{"fd"}},
		{Name: "close", Consumes: []string{"fd"}},
		{Name: "getpid"},
	})
}

func TestGenerate(t *testing.T) {
	g := New()
	rnd := rand.New(testutil.RandSource(t))
	target := testTarget()
	for i := 0; i < testutil.IterCount(); i++ {
		p := g.Generate(rnd, target)
		assert.GreaterOrEqual(t, p.Len(), minProgLen)
		assert.LessOrEqual(t, p.Len(), maxProgLen)
		assert.Same(t, target, p.Target)
	}
}

func TestMutate(t *testing.T) {
	g := New()
	rnd := rand.New(testutil.RandSource(t))
	target := testTarget()
	for i := 0; i < testutil.IterCount(); i++ {
		p := g.Generate(rnd, target)
		before := string(p.Serialize())
		mutated := g.Mutate(rnd, p)
		assert.GreaterOrEqual(t, mutated.Len(), minProgLen)
		assert.LessOrEqual(t, mutated.Len(), maxProgLen)
		// The original must never be modified.
		assert.Equal(t, before, string(p.Serialize()))
	}
}

func TestGeneratePrefersSatisfiable(t *testing.T) {
	g := New()
	rnd := rand.New(testutil.RandSource(t))
	target := testTarget()
	// With retries in place, consuming calls should mostly appear after a
	// producer; count programs that are fully self-contained.
	selfContained := 0
	const n = 500
	for i := 0; i < n; i++ {
		if g.Generate(rnd, target).SelfContained() {
			selfContained++
		}
	}
	// Uniform choice over this table would make self-contained programs
	// rare; the biased choice should produce a solid share of them.
	assert.Greater(t, selfContained, n/10)
}
