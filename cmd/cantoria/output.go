// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/cantoria/cantoria/internal/events"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// colorEnabled reports whether styled output makes sense on stdout.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// styled applies a style only when stdout is a terminal.
func styled(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

func shortHex(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// progressListener prints one line per render event.
func progressListener() events.Listener {
	return func(event *events.Event) {
		switch data := event.Data.(type) {
		case *events.CacheLoadFinishedData:
			fmt.Printf("%s %d phrase(s) loaded from cache\n",
				styled(dimStyle, "[cache]"), len(data.PhraseKeys))
		case *events.TrackQueryGenerationStartedData:
			fmt.Printf("%s track %s: query generation\n",
				styled(stageStyle, "[query]"), data.TrackID)
		case *events.TrackQueryGenerationFinishedData:
			ok, failed := 0, 0
			for _, r := range data.Results {
				if r.Success() {
					ok++
				} else {
					failed++
				}
			}
			fmt.Printf("%s track %s: %d ok, %d failed\n",
				styled(stageStyle, "[query]"), data.TrackID, ok, failed)
		case *events.PhraseStageFinishedData:
			label := stageEventLabel(event.Type)
			if data.Result.Success() {
				fmt.Printf("%s phrase %s %s\n",
					styled(stageStyle, "["+label+"]"), shortHex(string(data.PhraseKey)), styled(successStyle, "done"))
			} else {
				fmt.Printf("%s phrase %s %s: %s\n",
					styled(stageStyle, "["+label+"]"), shortHex(string(data.PhraseKey)), styled(errorStyle, "failed"), data.Result.Error)
			}
		default:
			switch event.Type {
			case events.TypeRenderingStarted:
				fmt.Println(styled(dimStyle, "rendering started"))
			case events.TypeRenderingCompleted:
				fmt.Println(styled(successStyle, "rendering completed"))
			}
		}
	}
}

func stageEventLabel(t events.Type) string {
	switch t {
	case events.TypePitchGenerationFinished:
		return "pitch"
	case events.TypeVolumeGenerationFinished:
		return "volume"
	case events.TypeVoiceSynthesisFinished:
		return "voice"
	default:
		return "stage"
	}
}
