// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dag implements the cache-aware task graph the renderer executes.
//
// A Task is one unit of pipeline work (query generation, phoneme-timing
// adjustment, pitch, volume, or voice synthesis for one phrase or track).
// A Graph validates the task set (no duplicates, every dependency present,
// no cycles). The Runner drives the graph single-threaded and cooperatively:
//
//  1. Check for a requested interruption.
//  2. Drain the pending cache-check queue, probing cacheable tasks.
//  3. Pick the next task: a cached runnable first (when enabled), else
//     whatever the injected Selector returns. No task means done.
//  4. Run it, emitting started/finished hooks.
//  5. Propagate the outcome: promote settled children to runnable, or walk
//     failures down the graph applying each child's skip policy.
//
// Failures are isolated per task chain; the runner never stops because one
// task failed. Interruption is checked between tasks only, so in-flight
// stage work always completes.
package dag
