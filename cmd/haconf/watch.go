package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nugget/haconf/internal/config"
	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/connwatch"
	"github.com/nugget/haconf/internal/official"
	"github.com/nugget/haconf/internal/pipeline"
)

// defaultDebounce collapses the burst of events an editor produces when
// it saves a file.
const defaultDebounce = 500 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	var (
		vf           validateFlags
		debounce     time.Duration
		skipOfficial bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run validation whenever a configuration file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stages := pipeline.AllStages()
			if skipOfficial {
				stages = without(stages, pipeline.StageOfficial)
			}
			return a.watch(cmd.Context(), vf, stages, debounce)
		},
	}
	cmd.Flags().StringVar(&vf.root, "root", "", "configuration directory (default: root from config, else .)")
	cmd.Flags().StringVar(&vf.snapshot, "snapshot", "", "registry snapshot directory (default: <root>/.storage)")
	cmd.Flags().BoolVar(&skipOfficial, "skip-official", false, "do not run the platform's own check")
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "quiet period after a change before validating")
	return cmd
}

// watch validates once, then again after every burst of changes to a
// YAML file under the root, until ctx is cancelled. Failing verdicts are
// printed, not returned.
func (a *app) watch(ctx context.Context, vf validateFlags, stages []pipeline.Stage, debounce time.Duration) error {
	root, _ := a.paths(vf)

	checker, stop, err := a.watchChecker(ctx, stages)
	if err != nil {
		return err
	}
	defer stop()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer w.Close()

	if err := a.watchTree(w, root, root); err != nil {
		return err
	}

	validate := func() {
		report, err := a.runPipeline(ctx, vf, stages, checker)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("validation failed to run", "error", err)
			}
			return
		}
		if err := a.writeReport(report); err != nil {
			a.logger.Error("write report", "error", err)
		}
	}

	a.logger.Info("watching for changes", "root", root, "debounce", debounce)
	validate()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !a.relevant(w, root, ev) {
				continue
			}
			a.logger.Debug("change detected", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("file watcher error", "error", err)

		case <-timer.C:
			validate()
		}
	}
}

// watchChecker builds the external validator for watch mode. In api
// mode a background watcher tracks the instance so that a run while it
// is down reports unavailable at once instead of waiting out the backoff.
func (a *app) watchChecker(ctx context.Context, stages []pipeline.Stage) (official.Checker, func(), error) {
	noop := func() {}
	if !slices.Contains(stages, pipeline.StageOfficial) {
		return nil, noop, nil
	}
	if a.cfg.Official.Mode != config.ModeAPI {
		c, err := a.checker()
		return c, noop, err
	}

	client, err := a.haClient()
	if err != nil {
		return nil, noop, err
	}
	backoff := connwatch.DefaultBackoffConfig()
	watcher := connwatch.NewWatcher(ctx, connwatch.WatcherConfig{
		Name:    "homeassistant",
		Probe:   client.Ping,
		Backoff: backoff,
		Logger:  a.logger,
	})
	client.SetWatcher(watcher)
	return &official.APIChecker{Client: client, Backoff: backoff, Logger: a.logger}, watcher.Stop, nil
}

// watchTree adds dir and every directory below it that is not ignored.
func (a *app) watchTree(w *fsnotify.Watcher, root, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel := a.rel(root, p); rel != "." && configset.IgnoredDir(a.cfg.Ignore, rel) {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// relevant reports whether ev should trigger a run. New directories are
// added to the watch as a side effect.
func (a *app) relevant(w *fsnotify.Watcher, root string, ev fsnotify.Event) bool {
	rel := a.rel(root, ev.Name)
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !configset.IgnoredDir(a.cfg.Ignore, rel) {
				if err := a.watchTree(w, root, ev.Name); err != nil {
					a.logger.Warn("watch new directory", "dir", ev.Name, "error", err)
				}
			}
			return false
		}
	}
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return configset.IsYAML(rel) && !configset.Ignored(a.cfg.Ignore, rel)
}

func (a *app) rel(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
