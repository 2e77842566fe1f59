// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/cantoria/cantoria/internal/dag"
	"github.com/cantoria/cantoria/internal/phrase"
)

// TaskIndex maps built tasks back to their phrases and tracks so the
// renderer facade can translate task lifecycle hooks into render events.
type TaskIndex struct {
	// PhraseKeys maps each per-phrase task to its phrase.
	PhraseKeys map[dag.Task]phrase.Key

	// TrackIDs maps every task to its owning track.
	TrackIDs map[dag.Task]string

	// QueryTaskCount counts the query tasks built per track.
	QueryTaskCount map[string]int
}

// Build instantiates the pipeline's tasks for every phrase with a singer
// and wires their dependencies.
//
// Description:
//
//	Per track: one QueryGenTask per phrase (no dependencies), one
//	PhonemeTimingAdjustTask depending on all of the track's query tasks
//	(runs whenever at least one query succeeded), and per phrase a
//	PitchGenTask (its query task plus the adjust task), a VolumeGenTask
//	(its pitch task), and a VoiceSynthTask (its volume task). The three
//	per-phrase stages short-circuit on any upstream failure.
//
//	order fixes the construction order (and therefore the runner's initial
//	cache-check queue) for a given snapshot.
//
// Outputs:
//
//	[]dag.Task - tasks in construction order.
//	*TaskIndex - task-to-phrase/track mapping for event adaptation.
func Build(rc *Context, order []phrase.Key) ([]dag.Task, *TaskIndex) {
	index := &TaskIndex{
		PhraseKeys:     make(map[dag.Task]phrase.Key),
		TrackIDs:       make(map[dag.Task]string),
		QueryTaskCount: make(map[string]int),
	}

	byTrack := make(map[string][]*phrase.Phrase)
	var trackOrder []string
	for _, key := range order {
		p := rc.Phrases[key]
		if p == nil || p.Singer == nil {
			continue
		}
		if _, seen := byTrack[p.TrackID]; !seen {
			trackOrder = append(trackOrder, p.TrackID)
		}
		byTrack[p.TrackID] = append(byTrack[p.TrackID], p)
	}

	var tasks []dag.Task
	for _, trackID := range trackOrder {
		phrases := byTrack[trackID]

		queryTasks := make(map[phrase.Key]*QueryGenTask, len(phrases))
		queryDeps := make([]dag.Task, 0, len(phrases))
		for _, p := range phrases {
			qt := &QueryGenTask{
				BaseTask: dag.BaseTask{
					TaskName:   taskName(dag.KindQuery, shortKey(p.Key)),
					TaskKind:   dag.KindQuery,
					TaskPolicy: dag.AnyDependencyFailedOrSkipped,
				},
				rc:  rc,
				phr: p,
			}
			queryTasks[p.Key] = qt
			queryDeps = append(queryDeps, qt)
			tasks = append(tasks, qt)
			index.PhraseKeys[qt] = p.Key
			index.TrackIDs[qt] = trackID
			index.QueryTaskCount[trackID]++
		}

		adjust := &PhonemeTimingAdjustTask{
			BaseTask: dag.BaseTask{
				TaskName:   taskName(dag.KindPhonemeTimingAdjust, trackID),
				TaskKind:   dag.KindPhonemeTimingAdjust,
				TaskDeps:   queryDeps,
				TaskPolicy: dag.AllDependenciesFailedOrSkipped,
			},
			rc:      rc,
			trackID: trackID,
			phrases: phrases,
		}
		tasks = append(tasks, adjust)
		index.TrackIDs[adjust] = trackID

		for _, p := range phrases {
			pitch := &PitchGenTask{
				BaseTask: dag.BaseTask{
					TaskName:   taskName(dag.KindPitch, shortKey(p.Key)),
					TaskKind:   dag.KindPitch,
					TaskDeps:   []dag.Task{queryTasks[p.Key], adjust},
					TaskPolicy: dag.AnyDependencyFailedOrSkipped,
				},
				rc:  rc,
				phr: p,
			}
			volume := &VolumeGenTask{
				BaseTask: dag.BaseTask{
					TaskName:   taskName(dag.KindVolume, shortKey(p.Key)),
					TaskKind:   dag.KindVolume,
					TaskDeps:   []dag.Task{pitch},
					TaskPolicy: dag.AnyDependencyFailedOrSkipped,
				},
				rc:  rc,
				phr: p,
			}
			voice := &VoiceSynthTask{
				BaseTask: dag.BaseTask{
					TaskName:   taskName(dag.KindVoice, shortKey(p.Key)),
					TaskKind:   dag.KindVoice,
					TaskDeps:   []dag.Task{volume},
					TaskPolicy: dag.AnyDependencyFailedOrSkipped,
				},
				rc:  rc,
				phr: p,
			}
			tasks = append(tasks, pitch, volume, voice)
			for _, t := range []dag.Task{pitch, volume, voice} {
				index.PhraseKeys[t] = p.Key
				index.TrackIDs[t] = trackID
			}
		}
	}
	return tasks, index
}
