package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classreg/internal/dumper"
)

var (
	// Verify command flags
	verifyArchive string
	verifyKey     string
	verifyPreload bool
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that an archive can be attached to the configured classpath",
	Long: `Build a registry over the configured classpath and attach the archive.

The archive is rejected when it cannot be read, was dumped with a different
root module, or its classpath entries are no longer a prefix of the runtime
classpath with the same sizes and modification times. With --preload every
archived type is restored and types that had to be parsed instead are
reported as misses.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	binName := BinName()
	verifyCmd.Example = `  # Verify the configured archive
  ` + binName + ` verify -c ./classreg.yaml

  # Fetch a published archive and restore every type
  ` + binName + ` verify -c ./classreg.yaml --storage-key archives/nightly/app.jsa --preload`

	verifyCmd.Flags().StringVarP(&verifyArchive, "archive", "a", "", "Archive file (defaults to archive.archive_output_path)")
	verifyCmd.Flags().StringVar(&verifyKey, "storage-key", "", "Fetch the archive from storage first")
	verifyCmd.Flags().BoolVar(&verifyPreload, "preload", false, "Restore every archived type")
}

func runVerify(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.dumper.Restore(cmd.Context(), dumper.RestoreRequest{
		ArchivePath: verifyArchive,
		StorageKey:  verifyKey,
		Preload:     verifyPreload,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if r.Rejected != nil {
		logger.Error("archive rejected: %v", r.Rejected)
		return fmt.Errorf("archive rejected: %w", r.Rejected)
	}

	stats := r.Index.Archive().Stats()
	logger.Info("=== Verify Results ===")
	logger.Info("Types:          %d", stats.Types)
	logger.Info("Entries:        %d", stats.Entries)
	if verifyPreload {
		logger.Info("Preloaded:      %d", r.Preloaded)
		logger.Info("Misses:         %d", r.PreloadMisses)
		logger.Info("Rejected types: %d", r.Registry.Stats().ArchiveRejects)
	}
	logger.Info("Archive is usable")
	return nil
}
