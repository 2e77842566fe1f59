// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"github.com/cantoria/cantoria/internal/dag"
	"github.com/cantoria/cantoria/internal/events"
	"github.com/cantoria/cantoria/internal/phrase"
	"github.com/cantoria/cantoria/internal/pipeline"
)

// eventAdapter translates task lifecycle hooks into the higher-level
// render events of the facade:
//
//   - the cache-load phase: phrase keys accumulate while every started
//     task is a cache hit; the first non-cached start (or run end) emits
//     one cacheLoadFinished,
//   - per-track query grouping: per-phrase query results are collected and
//     delivered together as one trackQueryGenerationFinished,
//   - per-phrase start/finish events for pitch, volume, and voice.
//
// The adapter runs inside the single-threaded runner loop; no locking.
type eventAdapter struct {
	emitter *events.Emitter
	index   *pipeline.TaskIndex
	phrases map[phrase.Key]*phrase.Phrase

	cacheLoadDone bool
	cachedPhrases []phrase.Key
	cachedSeen    map[phrase.Key]struct{}

	queryStarted   map[string]struct{}
	queryRemaining map[string]int
	queryResults   map[string]map[phrase.Key]events.StageResult
}

func newEventAdapter(emitter *events.Emitter, index *pipeline.TaskIndex, phrases map[phrase.Key]*phrase.Phrase) *eventAdapter {
	remaining := make(map[string]int, len(index.QueryTaskCount))
	for trackID, n := range index.QueryTaskCount {
		remaining[trackID] = n
	}
	return &eventAdapter{
		emitter:        emitter,
		index:          index,
		phrases:        phrases,
		cachedSeen:     make(map[phrase.Key]struct{}),
		queryStarted:   make(map[string]struct{}),
		queryRemaining: remaining,
		queryResults:   make(map[string]map[phrase.Key]events.StageResult),
	}
}

// hooks returns the dag.Hooks wired into the runner.
func (a *eventAdapter) hooks() dag.Hooks {
	return dag.Hooks{
		TaskStarted:  a.taskStarted,
		TaskFinished: a.taskFinished,
	}
}

func (a *eventAdapter) taskStarted(task dag.Task, cached bool) {
	if !a.cacheLoadDone && !cached {
		a.emitCacheLoadFinished()
	}

	switch task.Kind() {
	case dag.KindQuery:
		trackID := a.index.TrackIDs[task]
		if _, seen := a.queryStarted[trackID]; !seen {
			a.queryStarted[trackID] = struct{}{}
			a.emitter.Emit(events.TypeTrackQueryGenerationStarted,
				&events.TrackQueryGenerationStartedData{TrackID: trackID})
		}
	case dag.KindPitch:
		a.emitter.Emit(events.TypePitchGenerationStarted,
			&events.PhraseStageStartedData{PhraseKey: a.index.PhraseKeys[task]})
	case dag.KindVolume:
		a.emitter.Emit(events.TypeVolumeGenerationStarted,
			&events.PhraseStageStartedData{PhraseKey: a.index.PhraseKeys[task]})
	case dag.KindVoice:
		a.emitter.Emit(events.TypeVoiceSynthesisStarted,
			&events.PhraseStageStartedData{PhraseKey: a.index.PhraseKeys[task]})
	}
}

func (a *eventAdapter) taskFinished(task dag.Task, cached bool, err error) {
	key, isPhraseTask := a.index.PhraseKeys[task]
	if !a.cacheLoadDone && cached && isPhraseTask && err == nil {
		if _, seen := a.cachedSeen[key]; !seen {
			a.cachedSeen[key] = struct{}{}
			a.cachedPhrases = append(a.cachedPhrases, key)
		}
	}

	switch task.Kind() {
	case dag.KindQuery:
		a.queryFinished(task, key, err)
	case dag.KindPitch:
		a.emitter.Emit(events.TypePitchGenerationFinished, &events.PhraseStageFinishedData{
			PhraseKey: key,
			Result:    a.stageResult(err, string(a.phrases[key].PitchKey)),
		})
	case dag.KindVolume:
		a.emitter.Emit(events.TypeVolumeGenerationFinished, &events.PhraseStageFinishedData{
			PhraseKey: key,
			Result:    a.stageResult(err, string(a.phrases[key].VolumeKey)),
		})
	case dag.KindVoice:
		a.emitter.Emit(events.TypeVoiceSynthesisFinished, &events.PhraseStageFinishedData{
			PhraseKey: key,
			Result:    a.stageResult(err, string(a.phrases[key].VoiceKey)),
		})
	}
}

// queryFinished records one per-phrase query result and emits the track's
// aggregate event once the last query has settled. That event therefore
// fires before any of the track's pitch events: pitch tasks depend on the
// timing-adjust task, which waits for every query of the track.
func (a *eventAdapter) queryFinished(task dag.Task, key phrase.Key, err error) {
	trackID := a.index.TrackIDs[task]
	if a.queryResults[trackID] == nil {
		a.queryResults[trackID] = make(map[phrase.Key]events.StageResult)
	}
	a.queryResults[trackID][key] = a.stageResult(err, string(a.phrases[key].QueryKey))

	a.queryRemaining[trackID]--
	if a.queryRemaining[trackID] == 0 {
		a.emitter.Emit(events.TypeTrackQueryGenerationFinished, &events.TrackQueryGenerationFinishedData{
			TrackID: trackID,
			Results: a.queryResults[trackID],
		})
	}
}

func (a *eventAdapter) stageResult(err error, artifactKey string) events.StageResult {
	if err != nil {
		return events.NewStageError(err)
	}
	return events.NewStageSuccess(artifactKey)
}

func (a *eventAdapter) emitCacheLoadFinished() {
	a.cacheLoadDone = true
	keys := make([]phrase.Key, len(a.cachedPhrases))
	copy(keys, a.cachedPhrases)
	a.emitter.Emit(events.TypeCacheLoadFinished, &events.CacheLoadFinishedData{PhraseKeys: keys})
}

// finish closes the run: a pending cacheLoadFinished is flushed, and a
// completed run gets its renderingCompleted.
func (a *eventAdapter) finish(outcome dag.Outcome) {
	if !a.cacheLoadDone {
		a.emitCacheLoadFinished()
	}
	if outcome == dag.OutcomeCompleted {
		a.emitter.Emit(events.TypeRenderingCompleted, nil)
	}
}
