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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cantoria/cantoria/internal/project"
	"github.com/cantoria/cantoria/internal/render"
)

var flagOutDir string

var renderCmd = &cobra.Command{
	Use:   "render <project.yaml>",
	Short: "Render a project once and write the voice blobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&flagOutDir, "out", "o", "", "directory to write voice blobs into")
}

func runRender(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.logger.Close()

	snap, err := project.Load(args[0])
	if err != nil {
		return err
	}

	if err := app.renderer.Events().Subscribe("cli-progress", progressListener()); err != nil {
		return err
	}

	result, err := app.renderer.Render(cmd.Context(), snap)
	if err != nil {
		return err
	}
	if result.Outcome == render.OutcomeInterrupted {
		fmt.Println(styled(dimStyle, "render interrupted"))
		return nil
	}

	complete, failed := 0, 0
	for _, p := range result.Phrases {
		if p.ErrorOccurredDuringRendering {
			failed++
			continue
		}
		if p.Complete() {
			complete++
		}
	}
	fmt.Printf("%d phrase(s) rendered, %d failed\n", complete, failed)

	if flagOutDir == "" {
		return nil
	}
	if err := os.MkdirAll(flagOutDir, 0750); err != nil {
		return err
	}
	for _, p := range result.Phrases {
		if p.Voice == nil {
			continue
		}
		name := fmt.Sprintf("%s_%s.bin", p.TrackID, shortHex(string(p.Key)))
		if err := os.WriteFile(filepath.Join(flagOutDir, name), p.Voice, 0640); err != nil {
			return err
		}
	}
	app.logger.Info("voice blobs written", "dir", flagOutDir)
	return nil
}
