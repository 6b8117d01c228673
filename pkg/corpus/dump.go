// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/healer-fuzz/healer/pkg/osutil"
)

// dump persists the current generation: one directory named by the queue's
// descriptive tag, one file per input named by the input's tag, containing
// the textual program. Persistence is best-effort; the in-memory queue is
// the source of truth.
func (q *Queue) dump() error {
	dir := filepath.Join(q.queueDir, q.Description())
	if err := osutil.MkdirAll(dir); err != nil {
		return err
	}
	for _, inp := range q.inputs {
		file := filepath.Join(dir, inp.Description())
		if err := osutil.WriteFile(file, inp.P.Serialize()); err != nil {
			return fmt.Errorf("input %v: %w", inp.Description(), err)
		}
	}
	return nil
}

// Description is the tag naming one persisted generation: culling
// generation, depth, call diversity, average score, and the favored/crash/
// self-contained counts when non-zero.
func (q *Queue) Description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "age:%v,dep:%v,calls:%v,score:%v",
		q.currentAge, len(q.inputDepth), len(q.callCnt), q.avgs[AvgScore])
	if len(q.favored) != 0 {
		fmt.Fprintf(&b, ",fav:%v", len(q.favored))
	}
	if len(q.foundRe) != 0 {
		fmt.Fprintf(&b, ",nre:%v", len(q.foundRe))
	}
	if len(q.selfContained) != 0 {
		fmt.Fprintf(&b, ",self:%v", len(q.selfContained))
	}
	return b.String()
}
