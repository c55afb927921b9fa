package cmd

import (
	"github.com/spf13/cobra"

	"github.com/classreg/internal/dumper"
	"github.com/classreg/pkg/config"
	"github.com/classreg/pkg/writer"
)

var (
	// Dump command flags
	classlistPath   string
	outputPath      string
	snapshotName    string
	compressionName string
	appPath         []string
	excludePrefixes []string
	reportPath      string
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Resolve the classlist and write a shared archive",
	Long: `Resolve every type named by the classlist and write the result to a
shared archive.

Lines with a source are defined in a separate namespace from the named
jar or directory; their super class and interfaces must match the ids
the line declares. Types that cannot be found are skipped with a warning.
A circular super type chain or a loader constraint violation fails the
dump.

When storage is configured the archive is published under
<storage_key_prefix>/<snapshot>/<file>. When the catalog database is
enabled the archived types are recorded under the snapshot name.`,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	binName := BinName()
	dumpCmd.Example = `  # Dump using paths from the configuration file
  ` + binName + ` dump -c ./classreg.yaml

  # Override the classlist, output and application classpath
  ` + binName + ` dump --classlist ./classlist -o ./app.jsa --app ./lib/app.jar --app ./classes

  # Record the archive as a named snapshot
  ` + binName + ` dump -c ./classreg.yaml --snapshot nightly`

	dumpCmd.Flags().StringVar(&classlistPath, "classlist", "", "Classlist file (overrides archive.classlist_path)")
	dumpCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Archive file to write (overrides archive.archive_output_path)")
	dumpCmd.Flags().StringVar(&snapshotName, "snapshot", "", "Snapshot name (defaults to the archive file name)")
	dumpCmd.Flags().StringVar(&compressionName, "compression", "", "Payload compression: zstd, gzip or none")
	dumpCmd.Flags().StringSliceVar(&appPath, "app", nil, "Application classpath entries (overrides classpath.app)")
	dumpCmd.Flags().StringVar(&reportPath, "report", "", "Write the dump result as JSON (.gz or .zst compresses it)")
	dumpCmd.Flags().StringSliceVar(&excludePrefixes, "exclude", nil, "Leave types with this name prefix out of the archive")
}

// applyDumpFlags copies the dump flags over the loaded configuration.
func applyDumpFlags(c *config.Config) error {
	if classlistPath != "" {
		c.Archive.ClasslistPath = classlistPath
	}
	if outputPath != "" {
		c.Archive.OutputPath = outputPath
	}
	if compressionName != "" {
		c.Archive.Compression = compressionName
	}
	if len(appPath) > 0 {
		c.Classpath.App = appPath
	}
	c.Archive.ExcludePrefixes = append(c.Archive.ExcludePrefixes, excludePrefixes...)
	return c.Validate()
}

func runDump(cmd *cobra.Command, args []string) error {
	if err := applyDumpFlags(cfg); err != nil {
		return err
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.dumper.Dump(cmd.Context(), dumper.DumpRequest{Snapshot: snapshotName})
	if err != nil {
		logger.Error("dump failed: %v", err)
		return err
	}
	printDumpResult(result)
	return writeReport(result)
}

func writeReport(result *dumper.DumpResult) error {
	if reportPath == "" {
		return nil
	}
	stats, err := writer.ForPath[*dumper.DumpResult](reportPath).WriteToFile(result, reportPath)
	if err != nil {
		return err
	}
	logger.Info("Report:         %s (%d bytes)", reportPath, stats.WrittenSize)
	return nil
}

func printDumpResult(r *dumper.DumpResult) {
	logger.Info("=== Dump Results ===")
	logger.Info("Snapshot:       %s", r.Snapshot)
	logger.Info("Archive:        %s", r.OutputPath)
	logger.Info("Loaded:         %d", r.Loaded)
	logger.Info("Skipped:        %d", r.Skipped)
	if r.Unregistered > 0 {
		logger.Info("Source-only:    %d (not archived)", r.Unregistered)
	}
	if r.Excluded > 0 {
		logger.Info("Excluded:       %d", r.Excluded)
	}
	logger.Info("Types:          %d", r.Archive.Types)
	logger.Info("Modules:        %d", r.Archive.Modules)
	logger.Info("Packages:       %d", r.Archive.Packages)
	logger.Info("Lambda proxies: %d", r.Archive.LambdaProxies)
	logger.Info("Parses:         %d", r.Registry.Parses)
	if r.StorageURL != "" {
		logger.Info("Published:      %s", r.StorageURL)
	}
	if r.SnapshotID != 0 {
		logger.Info("Catalog ID:     %d", r.SnapshotID)
	}
	logger.Info("Duration:       %v", r.Duration)
}
