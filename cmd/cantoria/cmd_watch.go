// Copyright (C) 2025 Cantoria Project (maintainers@cantoria.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cantoria/cantoria/internal/project"
	"github.com/cantoria/cantoria/internal/render"
)

var watchCmd = &cobra.Command{
	Use:   "watch <project.yaml>",
	Short: "Re-render whenever the project file changes",
	Long: `watch renders the project, then watches the file and re-renders on every
save. An in-flight render is interrupted first; finished artifacts stay in
the caches, so only changed phrases are recomputed.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.logger.Close()

	if err := app.renderer.Events().Subscribe("cli-progress", progressListener()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	renderOnce := func(path string) {
		if err := app.renderer.RequestInterruption(); err != nil && !errors.Is(err, render.ErrNotRendering) {
			app.logger.Warn("interrupt failed", "error", err)
		}
		snap, err := project.Load(path)
		if err != nil {
			fmt.Println(styled(errorStyle, "project error: ") + err.Error())
			return
		}
		go func() {
			// Wait out the interrupted render before starting the next.
			for app.renderer.IsRendering() {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
			if _, err := app.renderer.Render(ctx, snap); err != nil && !errors.Is(err, render.ErrAlreadyRendering) {
				app.logger.Error("render failed", "error", err)
			}
		}()
	}

	renderOnce(args[0])

	watcher := project.NewWatcher(args[0], renderOnce, app.logger.Slog())
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
