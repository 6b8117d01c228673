// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover provides types for working with branch coverage.
package cover

import (
	"slices"
	"sync"
)

// Cover is a set of branch IDs, owned by a single goroutine.
type Cover map[uint64]struct{}

// Merge adds raw branches to the set and returns how many were new.
func (cov Cover) Merge(raw []uint64) int {
	added := 0
	for _, br := range raw {
		if _, ok := cov[br]; !ok {
			cov[br] = struct{}{}
			added++
		}
	}
	return added
}

func (cov Cover) Len() int {
	return len(cov)
}

// Serialize returns the branches in sorted order.
func (cov Cover) Serialize() []uint64 {
	res := make([]uint64, 0, len(cov))
	for br := range cov {
		res = append(res, br)
	}
	slices.Sort(res)
	return res
}

// Shared is a process-wide coverage set accessed by all workers.
// Reads take a shared lock; the exclusive lock is taken only when new
// branches actually have to be inserted.
type Shared struct {
	mu  sync.RWMutex
	cov Cover
}

func NewShared() *Shared {
	return &Shared{cov: make(Cover)}
}

// MergeDiff inserts raw branches and returns the ones that were not yet in
// the set. The common no-new-coverage case never takes the write lock.
func (s *Shared) MergeDiff(raw []uint64) []uint64 {
	var missing []uint64
	s.mu.RLock()
	for _, br := range raw {
		if _, ok := s.cov[br]; !ok {
			missing = append(missing, br)
		}
	}
	s.mu.RUnlock()
	if len(missing) == 0 {
		return nil
	}
	// Another worker may have inserted some of them in between, recheck.
	var diff []uint64
	s.mu.Lock()
	for _, br := range missing {
		if _, ok := s.cov[br]; !ok {
			s.cov[br] = struct{}{}
			diff = append(diff, br)
		}
	}
	s.mu.Unlock()
	return diff
}

func (s *Shared) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cov)
}

// Snapshot returns a sorted copy of the set.
func (s *Shared) Snapshot() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cov.Serialize()
}
