// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package project loads score project files for the CLI and service. A
// project file is the yaml form of a score snapshot; the rendering core
// itself never touches the filesystem.
package project

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cantoria/cantoria/internal/score"
)

// File is the on-disk shape of a project.
type File struct {
	TPQN             int                `yaml:"tpqn"`
	Tempos           []score.Tempo      `yaml:"tempos"`
	Tracks           []score.Track      `yaml:"tracks"`
	EngineFrameRates map[string]float64 `yaml:"engine_frame_rates"`
	EditorFrameRate  float64            `yaml:"editor_frame_rate"`
}

// Load reads a project file and builds a validated score snapshot.
func Load(path string) (*score.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", path, err)
	}
	snap, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", path, err)
	}
	return snap, nil
}

// Parse builds a validated score snapshot from project yaml. Overlapping
// notes are detected here; the snapshot carries their ids.
func Parse(data []byte) (*score.Snapshot, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}

	snap := &score.Snapshot{
		TPQN:             file.TPQN,
		Tempos:           file.Tempos,
		Tracks:           file.Tracks,
		EngineFrameRates: file.EngineFrameRates,
		EditorFrameRate:  file.EditorFrameRate,
	}
	snap.OverlappingNoteIDs = score.DetectOverlappingNoteIDs(snap.Tracks)

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}
