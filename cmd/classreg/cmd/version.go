package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/classreg/internal/archive"
)

var (
	// Version information, set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print detailed version information including build time, git commit and archive format.`,
	// No configuration is needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		binName := BinName()
		fmt.Printf("%s version %s\n", binName, Version)
		fmt.Printf("  Git Commit:     %s\n", GitCommit)
		fmt.Printf("  Build Time:     %s\n", BuildTime)
		fmt.Printf("  Archive Format: %d\n", archive.FormatVersion)
		fmt.Printf("  Go Version:     %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
