// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/healer-fuzz/healer/pkg/testutil"
)

func TestMerge(t *testing.T) {
	cov := make(Cover)
	assert.Equal(t, 3, cov.Merge([]uint64{1, 2, 3}))
	assert.Equal(t, 1, cov.Merge([]uint64{3, 3, 4}))
	assert.Equal(t, 0, cov.Merge(nil))
	assert.Equal(t, 4, cov.Len())
	assert.Equal(t, []uint64{1, 2, 3, 4}, cov.Serialize())
}

func TestMergeDiff(t *testing.T) {
	s := NewShared()
	assert.Equal(t, []uint64{10, 20}, s.MergeDiff([]uint64{10, 20}))
	// Already-present branches must not be reported again.
	assert.Equal(t, []uint64{30}, s.MergeDiff([]uint64{10, 30, 20}))
	assert.Nil(t, s.MergeDiff([]uint64{10, 20, 30}))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []uint64{10, 20, 30}, s.Snapshot())
}

// Every branch must be reported as new by exactly one of the concurrent
// writers, no matter how their merges interleave.
func TestMergeDiffConcurrent(t *testing.T) {
	s := NewShared()
	const workers = 8
	branches := make([]uint64, testutil.IterCount())
	for i := range branches {
		branches[i] = uint64(i)
	}
	diffs := make(chan []uint64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got []uint64
			for i := 0; i < len(branches); i += 10 {
				end := i + 10
				if end > len(branches) {
					end = len(branches)
				}
				got = append(got, s.MergeDiff(branches[i:end])...)
			}
			diffs <- got
		}()
	}
	wg.Wait()
	close(diffs)

	seen := make(map[uint64]int)
	for diff := range diffs {
		for _, br := range diff {
			seen[br]++
		}
	}
	assert.Equal(t, len(branches), s.Len())
	assert.Equal(t, len(branches), len(seen))
	for br, cnt := range seen {
		assert.Equal(t, 1, cnt, "branch %v reported new %v times", br, cnt)
	}
}
