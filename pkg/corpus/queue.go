// Copyright 2024 healer-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus holds the per-worker corpus queue: all accepted inputs,
// the multi-tier weighted-selection policy deciding what to run next, and
// the periodic culling pass that recomputes branch ownership, prunes
// redundant inputs and rescales scoring statistics.
//
// A Queue is exclusively owned by its worker goroutine and is never
// accessed concurrently; the only cross-boundary object is the optional
// stats handle, which is write-only.
package corpus

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"time"

	"github.com/healer-fuzz/healer/pkg/cover"
	"github.com/healer-fuzz/healer/pkg/log"
	"github.com/healer-fuzz/healer/pkg/osutil"
	"github.com/healer-fuzz/healer/pkg/prog"
)

// AvgKind names the rolling-average metrics maintained per queue
// generation.
type AvgKind int

const (
	AvgGainingRate AvgKind = iota
	AvgDistinctDegree
	AvgDepth
	AvgSize
	AvgAge
	AvgExecTime
	AvgResCount
	AvgNewCov
	AvgLen
	AvgScore
	numAvgKinds
)

const (
	defaultCullingThreshold = 128
	defaultCullingDuration  = 15 * time.Minute

	// Width of the contiguous score-sheet windows used by the age-weighted
	// and round-robin selection tiers.
	selectionWindow = 8
)

type scoreEntry struct {
	score int
	idx   int
}

// Queue owns the inputs of one worker. Index sets (favored, pending*, etc)
// are views over inputs by position; they are valid until the next culling
// replaces the whole queue.
type Queue struct {
	id     int
	inputs []*Input

	current          int // rotating cursor of the fallback selection tier
	lastNum          int
	lastCulling      time.Time
	cullingThreshold int
	cullingDuration  time.Duration

	favored            []int
	pendingFavored     []int
	pendingNoneFavored []int
	foundRe            []int
	pendingFoundRe     []int
	selfContained      []int
	scoreSheet         []scoreEntry
	minScore           scoreEntry
	inputDepth         [][]int
	currentAge         int
	avgs               map[AvgKind]int
	callCnt            map[*prog.Syscall]int

	rnd      *rand.Rand
	stats    *Stats
	queueDir string
}

// ErrResume is returned when a queue directory from a previous run is found
// on disk; in-place resume is intentionally unsupported.
var ErrResume = errors.New("in-place resume not implemented")

// WithWorkdir creates a queue persisting snapshots under
// workDir/queue-<id>. An already existing queue directory is a fatal
// configuration error requiring manual removal.
func WithWorkdir(id int, workDir string, rnd *rand.Rand) (*Queue, error) {
	queueDir := filepath.Join(workDir, fmt.Sprintf("queue-%v", id))
	if osutil.IsExist(queueDir) {
		return nil, fmt.Errorf("%w: remove old data %v first", ErrResume, queueDir)
	}
	return NewQueue(id, rnd, queueDir), nil
}

// NewQueue creates an empty queue. queueDir may be empty to disable
// persistence.
func NewQueue(id int, rnd *rand.Rand, queueDir string) *Queue {
	return &Queue{
		id:               id,
		lastCulling:      time.Now(),
		cullingThreshold: defaultCullingThreshold,
		cullingDuration:  defaultCullingDuration,
		minScore:         scoreEntry{score: int(^uint(0) >> 1)},
		avgs:             emptyAvgs(),
		callCnt:          make(map[*prog.Syscall]int),
		rnd:              rnd,
		queueDir:         queueDir,
	}
}

func emptyAvgs() map[AvgKind]int {
	avgs := make(map[AvgKind]int, numAvgKinds)
	for kind := AvgKind(0); kind < numAvgKinds; kind++ {
		avgs[kind] = 0
	}
	return avgs
}

// SetCullingLimits overrides the growth/time culling triggers.
func (q *Queue) SetCullingLimits(threshold int, duration time.Duration) {
	q.cullingThreshold = threshold
	q.cullingDuration = duration
}

// SetStats attaches the write-only stats handle (by convention only the
// queue of job 0 gets one).
func (q *Queue) SetStats(stats *Stats) {
	q.stats = stats
	q.pushQueueStats()
}

func (q *Queue) Len() int {
	return len(q.inputs)
}

func (q *Queue) Empty() bool {
	return len(q.inputs) == 0
}

// Generation returns the culling generation counter (0 until the first
// culling has happened).
func (q *Queue) Generation() int {
	return q.currentAge
}

// Input returns the input at idx. Indices are stable between cullings.
func (q *Queue) Input(idx int) *Input {
	return q.inputs[idx]
}

// Select returns the next input to act on. See SelectIdx.
func (q *Queue) Select(toMutate bool) *Input {
	return q.inputs[q.SelectIdx(toMutate)]
}

// roll returns a uniform random value in 1..=100.
func (q *Queue) roll() int {
	return q.rnd.Intn(100) + 1
}

// SelectIdx chooses the next input. Tiers are evaluated in strict order,
// each with its own probability roll (rolled only when the tier's set is
// non-empty): unconsumed high-value inputs first (pending favored, pending
// crash-signature, pending ordinary), then re-selection from the durable
// interest sets, and finally a rotating weighted window over the whole
// corpus that guarantees eventual coverage even under adversarial scoring.
// Selection must only be invoked on a non-empty queue.
func (q *Queue) SelectIdx(toMutate bool) int {
	// Pending tiers consume their pick when toMutate is set.
	if len(q.pendingFavored) != 0 && q.roll() <= 90 {
		if idx, ok := q.takePending(&q.pendingFavored, toMutate); ok {
			q.pushQueueStats()
			return idx
		}
	} else if len(q.pendingFoundRe) != 0 && q.roll() <= 60 {
		if idx, ok := q.takePending(&q.pendingFoundRe, toMutate); ok {
			q.pushQueueStats()
			return idx
		}
	} else if len(q.pendingNoneFavored) != 0 && q.roll() < 30 {
		if idx, ok := q.takePending(&q.pendingNoneFavored, toMutate); ok {
			q.pushQueueStats()
			return idx
		}
	}

	// Durable interest sets: no removal here.
	if len(q.favored) != 0 && q.roll() <= 50 {
		return q.favored[q.rnd.Intn(len(q.favored))]
	} else if len(q.foundRe) != 0 && q.roll() <= 30 {
		return q.foundRe[q.rnd.Intn(len(q.foundRe))]
	} else if len(q.selfContained) != 0 && q.roll() <= 10 {
		return q.selfContained[q.rnd.Intn(len(q.selfContained))]
	} else if q.currentAge >= 1 && q.roll() <= 10 {
		start, end := 0, len(q.scoreSheet)
		if len(q.inputs) > selectionWindow {
			start = q.rnd.Intn(len(q.inputs) - selectionWindow)
			end = start + selectionWindow
		}
		if idx, ok := q.chooseWeighted(q.scoreSheet[start:end]); ok {
			return idx
		}
	} else if q.roll() <= 2 {
		if deepest := q.inputDepth[len(q.inputDepth)-1]; len(deepest) != 0 {
			return deepest[q.rnd.Intn(len(deepest))]
		}
	}

	// Fallback: rotating weighted window over the score sheet.
	start := q.current
	end := start + selectionWindow
	if end > len(q.inputs) {
		end = len(q.inputs)
	}
	q.current++
	if q.current >= len(q.inputs) {
		q.current = 0
	}
	if idx, ok := q.chooseWeighted(q.scoreSheet[start:end]); ok {
		return idx
	}
	// All-zero window cannot happen with score >= 1, but never panic here.
	return start + q.rnd.Intn(end-start)
}

// takePending weighted-chooses from a pending set; on toMutate the chosen
// index is removed from the set and the input marked consumed.
func (q *Queue) takePending(set *[]int, toMutate bool) (int, bool) {
	pos, ok := q.chooseWeightedPos(*set)
	if !ok {
		return 0, false
	}
	idx := (*set)[pos]
	if toMutate {
		*set = append((*set)[:pos], (*set)[pos+1:]...)
		q.inputs[idx].WasMutated = true
	}
	return idx, true
}

// chooseWeightedPos picks a position in set with probability proportional
// to the referenced input's score. ok is false when the set is empty or
// carries no positive weight, in which case the caller falls through to
// the next selection tier.
func (q *Queue) chooseWeightedPos(set []int) (int, bool) {
	total := 0
	for _, idx := range set {
		total += q.inputs[idx].Score
	}
	if total <= 0 {
		return 0, false
	}
	r := q.rnd.Intn(total)
	for pos, idx := range set {
		r -= q.inputs[idx].Score
		if r < 0 {
			return pos, true
		}
	}
	return 0, false
}

func (q *Queue) chooseWeighted(sheet []scoreEntry) (int, bool) {
	total := 0
	for _, e := range sheet {
		total += e.score
	}
	if total <= 0 {
		return 0, false
	}
	r := q.rnd.Intn(total)
	for _, e := range sheet {
		r -= e.score
		if r < 0 {
			return e.idx, true
		}
	}
	return 0, false
}

// Append accepts an input into the queue: stamps its age, updates the
// call-count table, recomputes its diversity and score against the current
// averages, classifies it into the side-sets and triggers culling when a
// threshold is met.
func (q *Queue) Append(inp *Input) {
	inp.Age = q.currentAge
	for _, c := range inp.P.Calls {
		q.callCnt[c.Meta]++
	}
	inp.updateDistinctDegree(q.callCnt)
	inp.updateScore(q.avgs)
	q.appendInner(inp, len(q.inputs))

	if q.stats != nil {
		q.stats.LastInput.SetNow()
		q.stats.CallsFuzzed.Set(int64(len(q.callCnt)))
	}

	if q.shouldCull() {
		q.cull()
	}
	q.pushQueueStats()
}

func (q *Queue) appendInner(inp *Input, idx int) {
	if inp.Favored {
		q.favored = append(q.favored, idx)
		if !inp.WasMutated {
			q.pendingFavored = append(q.pendingFavored, idx)
		}
	} else if !inp.WasMutated {
		q.pendingNoneFavored = append(q.pendingNoneFavored, idx)
	}
	if inp.FoundNewRe {
		q.foundRe = append(q.foundRe, idx)
		if !inp.WasMutated {
			q.pendingFoundRe = append(q.pendingFoundRe, idx)
		}
	}
	if inp.SelfContained {
		q.selfContained = append(q.selfContained, idx)
	}
	q.scoreSheet = append(q.scoreSheet, scoreEntry{score: inp.Score, idx: idx})
	if inp.Score < q.minScore.score {
		q.minScore = scoreEntry{score: inp.Score, idx: idx}
	}
	for inp.Depth >= len(q.inputDepth) {
		q.inputDepth = append(q.inputDepth, nil)
	}
	q.inputDepth[inp.Depth] = append(q.inputDepth[inp.Depth], idx)

	q.inputs = append(q.inputs, inp)
}

func (q *Queue) shouldCull() bool {
	if len(q.inputs) > q.lastNum &&
		len(q.inputs)-q.lastNum > q.cullingThreshold {
		return true
	}
	return time.Since(q.lastCulling) > q.cullingDuration
}

// cull recomputes global branch ownership across the corpus, discards
// redundant inputs, rescales the rolling averages and swaps in a rebuilt
// queue. This is the single most expensive periodic operation: dominated
// by branch-set merging over all retained inputs.
func (q *Queue) cull() {
	begin := time.Now()
	delta := 0
	if len(q.inputs) > q.lastNum {
		delta = len(q.inputs) - q.lastNum
	}
	log.Logf(1, "queue-%v: culling starts, delta/threshold: %v/%v, last/duration: %v/%v",
		q.id, delta, q.cullingThreshold,
		time.Since(q.lastCulling).Round(time.Second), q.cullingDuration)

	old := q.inputs
	q.inputs = nil
	oldLen := len(old)
	oldFavored := len(q.favored)

	// Longer programs first (they tend to exercise more state), ties
	// broken by higher score.
	sort.Slice(old, func(i, j int) bool {
		if old[i].Len != old[j].Len {
			return old[i].Len > old[j].Len
		}
		return old[i].Score > old[j].Score
	})

	// Walk in that order: branches new to the running set become the
	// input's coverage contribution and make it favored this generation.
	ownership := make(cover.Cover)
	kept := make([]*Input, 0, oldLen)
	discarded, newFavored := 0, 0
	for _, inp := range old {
		favored := false
		var newCov []uint64
		for ci := range inp.Info {
			for _, br := range inp.Info[ci].Branches {
				if _, ok := ownership[br]; !ok {
					ownership[br] = struct{}{}
					favored = true
					newCov = append(newCov, br)
				}
			}
		}
		// Cheap inputs contributing nothing new are pruned with 50%
		// probability rather than deterministically to avoid systematic
		// bias.
		if !favored && inp.Len <= 2 && q.rnd.Intn(2) == 0 {
			discarded++
			continue
		}
		if favored {
			newFavored++
		}
		inp.NewCov = newCov
		inp.Favored = favored
		inp.Age++
		kept = append(kept, inp)
	}

	// Break the ordering bias of the ownership sort before it becomes the
	// new index order.
	q.rnd.Shuffle(len(kept), func(i, j int) {
		kept[i], kept[j] = kept[j], kept[i]
	})

	callCnt := make(map[*prog.Syscall]int)
	for _, inp := range kept {
		for _, c := range inp.P.Calls {
			callCnt[c.Meta]++
		}
	}
	avgs := emptyAvgs()
	for _, inp := range kept {
		inp.updateDistinctDegree(callCnt)
		avgs[AvgGainingRate] += inp.GainingRate
		avgs[AvgDistinctDegree] += inp.DistinctDegree
		avgs[AvgAge] += inp.Age
		avgs[AvgSize] += inp.Sz
		avgs[AvgDepth] += inp.Depth
		avgs[AvgLen] += inp.Len
		avgs[AvgExecTime] += inp.ExecTime
		avgs[AvgResCount] += inp.ResCount
		avgs[AvgNewCov] += len(inp.NewCov)
	}
	if len(kept) != 0 {
		for kind := range avgs {
			avgs[kind] = ceilDiv(avgs[kind], len(kept))
		}
	}

	next := NewQueue(q.id, q.rnd, q.queueDir)
	next.currentAge = q.currentAge + 1
	next.lastNum = oldLen
	next.cullingThreshold = q.cullingThreshold
	next.cullingDuration = q.cullingDuration
	next.callCnt = callCnt
	score := 0
	for idx, inp := range kept {
		inp.updateScore(avgs)
		score += inp.Score
		next.appendInner(inp, idx)
	}
	if len(kept) != 0 {
		avgs[AvgScore] = score / len(kept)
	}
	next.avgs = avgs
	if q.stats != nil {
		q.stats.LastCulling.SetNow()
		next.stats = q.stats
	}
	*q = *next

	if q.queueDir != "" {
		if err := q.dump(); err != nil {
			log.Logf(0, "queue-%v: failed to dump: %v", q.id, err)
		}
	}

	q.pushQueueStats()
	q.pushAvgStats()

	log.Logf(1, "queue-%v: culling finished in %v, age: %v, discarded: %v, favored: %v -> %v, pending favored: %v",
		q.id, time.Since(begin).Round(time.Millisecond), q.currentAge,
		discarded, oldFavored, newFavored, len(q.pendingFavored))
}

func (q *Queue) pushQueueStats() {
	if q.stats == nil {
		return
	}
	q.stats.Len.Set(int64(len(q.inputs)))
	q.stats.Favored.Set(int64(len(q.favored)))
	q.stats.PendingFavored.Set(int64(len(q.pendingFavored)))
	q.stats.AvgScore.Set(int64(q.avgs[AvgScore]))
	q.stats.SelfContained.Set(int64(len(q.selfContained)))
	q.stats.MaxDepth.Set(int64(len(q.inputDepth)))
	q.stats.Age.Set(int64(q.currentAge))
}

func (q *Queue) pushAvgStats() {
	if q.stats == nil {
		return
	}
	q.stats.AvgExecTime.Set(int64(q.avgs[AvgExecTime]))
	q.stats.AvgLen.Set(int64(q.avgs[AvgLen]))
	q.stats.AvgGaining.Set(int64(q.avgs[AvgGainingRate]))
	q.stats.AvgDistinct.Set(int64(q.avgs[AvgDistinctDegree]))
	q.stats.AvgDepth.Set(int64(q.avgs[AvgDepth]))
	q.stats.AvgSize.Set(int64(q.avgs[AvgSize]))
	q.stats.AvgAge.Set(int64(q.avgs[AvgAge]))
	q.stats.AvgNewCov.Set(int64(q.avgs[AvgNewCov]))
}
