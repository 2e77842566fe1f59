// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"math"

	"github.com/cantoria/cantoria/internal/dag"
)

// stageRank orders the pipeline stages so the selector prefers earlier
// stages on a distance tie; finishing an early stage unblocks more work.
var stageRank = map[dag.Kind]int{
	dag.KindQuery:               0,
	dag.KindPhonemeTimingAdjust: 1,
	dag.KindPitch:               2,
	dag.KindVolume:              3,
	dag.KindVoice:               4,
}

// timedTask is implemented by per-phrase pipeline tasks.
type timedTask interface {
	StartTime() float64
}

// PlayheadSelector returns a selector that picks the runnable task whose
// phrase start is nearest the current play position, so the first audible
// frames are ready soonest. Track-scoped tasks (phoneme timing adjustment)
// have no position and always win: they gate every pitch task behind them.
//
// position is sampled once per pick; hosts supply the transport clock.
func PlayheadSelector(position func() float64) dag.Selector {
	return func(tasks []dag.Task, status func(dag.Task) dag.RunStatus) dag.Task {
		pos := position()
		var best dag.Task
		bestDist := math.Inf(1)
		bestRank := math.MaxInt

		for _, t := range tasks {
			if status(t) != dag.StatusRunnable {
				continue
			}
			timed, ok := t.(timedTask)
			if !ok {
				return t
			}
			dist := math.Abs(timed.StartTime() - pos)
			rank := stageRank[t.Kind()]
			if dist < bestDist || (dist == bestDist && rank < bestRank) {
				best = t
				bestDist = dist
				bestRank = rank
			}
		}
		return best
	}
}
