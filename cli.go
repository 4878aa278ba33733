package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const versionString = "gbasm 0.1.0"

var command = &cobra.Command{
	Use:     "gbasm <file.gba.asm> [-o output.gba]",
	Args:    cobra.ExactArgs(1),
	Version: versionString,
	Short:   "Assembles GBA ROM images from a project-local ARM/Thumb dialect",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		verbose, _ := cmd.Flags().GetBool("verbose")
		maxPasses, _ := cmd.Flags().GetInt("max-passes")
		return cmdBuild(args[0], output, verbose, maxPasses)
	},
}

var watchCommand = &cobra.Command{
	Use:   "watch <file.gba.asm> [-o output.gba]",
	Args:  cobra.ExactArgs(1),
	Short: "Rebuilds on every change to a used source file",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		verbose, _ := cmd.Flags().GetBool("verbose")
		maxPasses, _ := cmd.Flags().GetInt("max-passes")
		return cmdWatch(args[0], output, verbose, maxPasses)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Args:  cobra.NoArgs,
	Short: "Prints the gbasm version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(versionString)
		return nil
	},
}

func init() {
	command.PersistentFlags().StringP("output", "o", defaultOutputFile(), "output ROM path")
	command.PersistentFlags().BoolP("verbose", "v", defaultVerbose(), "log printf/debugLog diagnostics to stderr")
	command.PersistentFlags().Int("max-passes", defaultMaxPasses(), "upper bound on address-resolution passes before giving up")
	command.AddCommand(watchCommand)
	command.AddCommand(versionCommand)
}

// cmdBuild runs exactly one Project.Make and writes the resulting ROM,
// per spec.md §4.10 — the one-shot, non-incremental case.
func cmdBuild(path, output string, verbose bool, maxPasses int) error {
	proj, err := newProjectForFile(path, verbose, maxPasses)
	if err != nil {
		return err
	}
	result, err := proj.Make()
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, result.ROM, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "gbasm: wrote %s (%d bytes) from %d source file(s):\n", output, len(result.ROM), len(result.UsedFiles))
		for _, f := range result.UsedFiles {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
	}
	return nil
}

// cmdWatch builds once, then re-Makes incrementally every time a used
// source file changes, via Project.Invalidate — spec.md §4.10's
// "incremental rebuild" driven from the outside by a FileWatcher.
func cmdWatch(path, output string, verbose bool, maxPasses int) error {
	proj, err := newProjectForFile(path, verbose, maxPasses)
	if err != nil {
		return err
	}

	var fw *FileWatcher
	fw, err = NewFileWatcher(verbose, func(changed string) {
		proj.Invalidate(changed)
		result, err := proj.Make()
		if err != nil {
			fmt.Fprintf(os.Stderr, "gbasm: build failed: %v\n", err)
			return
		}
		if err := os.WriteFile(output, result.ROM, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "gbasm: writing %s: %v\n", output, err)
			return
		}
		fmt.Fprintf(os.Stderr, "gbasm: rebuilt %s (%d bytes) from %d file(s)\n", output, len(result.ROM), len(result.UsedFiles))
		registerUsedFiles(fw, proj, result.UsedFiles, verbose)
	})
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer fw.Close()

	result, err := proj.Make()
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, result.ROM, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	fmt.Fprintf(os.Stderr, "gbasm: wrote %s, watching %d file(s) for changes\n", output, len(result.UsedFiles))
	registerUsedFiles(fw, proj, result.UsedFiles, verbose)

	fw.Watch()
	return nil
}

// registerUsedFiles tells fw to watch every file the most recent
// build actually used; called again after every rebuild since a build
// can start (or stop) `include`-ing a file between passes. Re-adding
// an already-watched path is harmless: the inotify and polling
// watchers key entries by path, so a duplicate AddFile replaces its
// own entry; the Darwin kqueue watcher opens a second descriptor for
// the same path, whose change events are debounced per path.
func registerUsedFiles(fw *FileWatcher, proj *Project, used []string, verbose bool) {
	for _, rel := range used {
		abs := rel
		if proj.WorkDir != "" && !filepath.IsAbs(rel) {
			abs = filepath.Join(proj.WorkDir, rel)
		}
		if err := fw.AddFile(abs); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "gbasm: watch %s: %v\n", abs, err)
		}
	}
}

// newProjectForFile builds a Project rooted at path's directory, so
// sibling `include`/`embed`/`importAll` references resolve relative to
// the main file the way spec.md §4.10's "main file path" implies.
func newProjectForFile(path string, verbose bool, maxPasses int) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	proj := NewProject(abs, filepath.Dir(abs))
	proj.MaxPasses = maxPasses
	if verbose {
		proj.Logger = func(s string) { fmt.Fprintln(os.Stderr, strings.TrimRight(s, "\n")) }
	}
	return proj, nil
}
