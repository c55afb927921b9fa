package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/classreg/internal/dumper"
)

var (
	// Watch command flags
	watchDebounce time.Duration
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Dump again whenever the classlist changes",
	Long: `Dump once, then watch the classlist file and dump again each time it is
written or replaced. Bursts of events within the debounce interval cause a
single dump. A failed dump is logged and watching continues.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	binName := BinName()
	watchCmd.Example = `  # Watch the configured classlist
  ` + binName + ` watch -c ./classreg.yaml

  # Watch a specific classlist with a longer debounce
  ` + binName + ` watch --classlist ./classlist -o ./app.jsa --debounce 2s`

	watchCmd.Flags().StringVar(&classlistPath, "classlist", "", "Classlist file (overrides archive.classlist_path)")
	watchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Archive file to write (overrides archive.archive_output_path)")
	watchCmd.Flags().StringVar(&snapshotName, "snapshot", "", "Snapshot name (defaults to the archive file name)")
	watchCmd.Flags().StringVar(&reportPath, "report", "", "Write each dump result as JSON")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before dumping")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := applyDumpFlags(cfg); err != nil {
		return err
	}
	if err := cfg.ValidateForDump(); err != nil {
		return err
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dump := func() {
		result, err := s.dumper.Dump(ctx, dumper.DumpRequest{Snapshot: snapshotName})
		if err != nil {
			logger.Error("dump failed: %v", err)
			return
		}
		printDumpResult(result)
		if err := writeReport(result); err != nil {
			logger.Error("failed to write report: %v", err)
		}
	}
	dump()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors often replace the file, so the directory is watched.
	target := filepath.Clean(cfg.Archive.ClasslistPath)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logger.Info("watching %s, press Ctrl+C to stop", target)

	err = watchFile(ctx, w, target, watchDebounce, dump)
	if err == context.Canceled {
		logger.Info("stopped watching %s", target)
		return nil
	}
	return err
}

// watchFile calls fn once per burst of writes to target. It returns when
// ctx is done or the watcher is closed.
func watchFile(ctx context.Context, w *fsnotify.Watcher, target string, debounce time.Duration, fn func()) error {
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("classlist event: %s", ev.Op)
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error: %v", err)
		case <-timer.C:
			if _, err := os.Stat(target); err != nil {
				logger.Warn("classlist %s is gone: %v", target, err)
				continue
			}
			fn()
		}
	}
}
