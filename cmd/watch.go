package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/engine"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch <template>",
	Short: "Re-render a template whenever it or a macro file changes",
	Long: `Render a template, then watch the template, the template and macro
directories, the data file and the registry file, rendering again after
every change. Edited macro files are dropped from the macro cache and an
edited registry file is loaded again before the next render.

Examples:
  weft watch page.weft                      # Re-render to stdout
  weft watch page.weft -d data.yaml -o out.html
  weft watch page.weft --debounce 500ms`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchData     string
	watchOut      string
	watchDebounce time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchData, "data", "d", "", "YAML data file")
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "", "Output file (default stdout)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "Delay before re-rendering after a change")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, eng, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	template := args[0]

	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fileWatcher, err := watcher.NewFileWatcher(watchDebounce, logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fileWatcher.Stop()

	exts := []string{cfg.Templates.Extension, cfg.Macros.Extension}
	if watchData != "" {
		exts = append(exts, filepath.Ext(watchData))
	}
	if file := cfg.Components.RegistryFile; file != "" {
		exts = append(exts, filepath.Ext(file))
	}
	fileWatcher.AddFilter(watcher.ExtensionFilter(exts...))
	fileWatcher.AddFilter(watcher.ExcludeFilter(cfg.Templates.Exclude...))
	fileWatcher.AddFilter(watcher.NoGitFilter)

	render := func(ctx context.Context) {
		if err := renderTemplate(ctx, eng, template, watchData, watchOut, cmd.OutOrStdout()); err != nil {
			printError(cmd.ErrOrStderr(), err)

			return
		}
		logger.Info(ctx, "Rendered template", "file", template)
	}

	fileWatcher.AddHandler(changeHandler(eng, logger, render))

	events := eng.Registry().Watch()
	defer eng.Registry().UnWatch(events)
	go logRegistryEvents(ctx, logger, events)

	for _, dir := range watchDirs(cfg, template, watchData) {
		if err := fileWatcher.AddRecursive(dir); err != nil {
			logger.Warn(ctx, err, "Failed to watch path", "path", dir)

			continue
		}
		logger.Debug(ctx, "Watching", "path", dir)
	}

	render(ctx)

	if err := fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	logger.Info(ctx, "Watching for changes (press Ctrl+C to stop)")

	<-ctx.Done()
	logger.Info(context.Background(), "Stopping file watcher")

	return nil
}

// changeHandler drops changed macro files from the engine cache, reloads a
// changed registry file and renders again.
func changeHandler(eng *engine.Engine, logger logging.Logger, render func(context.Context)) watcher.ChangeHandler {
	handler := errors.NewErrorHandler(logger)

	return func(ctx context.Context, events []watcher.ChangeEvent) error {
		for _, event := range events {
			logger.Debug(ctx, "File changed", "path", event.Path, "type", event.Type.String())
			switch {
			case eng.IsMacroFile(event.Path):
				eng.Invalidate(event.Path)
			case eng.IsRegistryFile(event.Path):
				// the previous tags stay registered until the file is valid again
				handler.Handle(ctx, eng.ReloadRegistry(ctx))
			}
		}
		render(ctx)

		return nil
	}
}

// logRegistryEvents logs tag changes until events is closed or ctx is done.
func logRegistryEvents(ctx context.Context, logger logging.Logger, events <-chan component.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logger.Info(ctx, "Tag registry changed",
				"tag", event.Tag,
				"change", event.Type.String())
		}
	}
}

// watchDirs returns the existing directories to watch, without duplicates.
func watchDirs(cfg *config.Config, template, data string) []string {
	candidates := []string{filepath.Dir(template)}
	if data != "" {
		candidates = append(candidates, filepath.Dir(data))
	}
	if file := cfg.Components.RegistryFile; file != "" {
		candidates = append(candidates, filepath.Dir(file))
	}
	candidates = append(candidates, cfg.Templates.Paths...)
	candidates = append(candidates, cfg.Macros.Paths...)

	seen := make(map[string]bool, len(candidates))
	dirs := make([]string, 0, len(candidates))
	for _, dir := range candidates {
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, dir)
	}

	return dirs
}
