package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/classreg/internal/archive"
	"github.com/classreg/internal/repository"
	"github.com/classreg/pkg/writer"
)

var (
	// Inspect command flags
	inspectTypes   bool
	inspectLimit   int
	inspectCatalog string
	inspectJSON    string
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [archive]",
	Short: "Print the contents of an archive or a catalog snapshot",
	Long: `Print the header, classpath entries and record counts of an archive file.

With --types the archived types are listed with their super class, loader
and classpath entry. With --catalog the named snapshot is read from the
catalog database instead, including the type count of each loader.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	binName := BinName()
	inspectCmd.Example = `  # Summarize an archive
  ` + binName + ` inspect ./app.jsa

  # List the first 100 archived types
  ` + binName + ` inspect ./app.jsa --types --limit 100

  # Show a snapshot recorded in the catalog
  ` + binName + ` inspect -c ./classreg.yaml --catalog nightly`

	inspectCmd.Flags().BoolVar(&inspectTypes, "types", false, "List archived types")
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 50, "Maximum number of types to list (0 lists all)")
	inspectCmd.Flags().StringVar(&inspectJSON, "json", "", "Also write the archive summary as JSON to this file")
	inspectCmd.Flags().StringVar(&inspectCatalog, "catalog", "", "Snapshot name to read from the catalog database")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectCatalog != "" {
		return inspectSnapshot(cmd, inspectCatalog)
	}

	path := cfg.Archive.OutputPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no archive given and archive.archive_output_path is not set")
	}

	a, err := archive.ReadFile(path)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println("Archive " + path)
	header := pterm.TableData{
		{"Format", "Compression", "Root Module", "Created"},
		{
			strconv.Itoa(int(a.Header.Version)),
			a.Header.Compression.String(),
			a.Header.RootModule,
			a.Header.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(header).Render(); err != nil {
		return err
	}

	stats := a.Stats()
	counts := pterm.TableData{
		{"Entries", "Types", "Modules", "Packages", "Lambda Proxies", "Lambda Forms"},
		{
			strconv.Itoa(stats.Entries),
			strconv.Itoa(stats.Types),
			strconv.Itoa(stats.Modules),
			strconv.Itoa(stats.Packages),
			strconv.Itoa(stats.LambdaProxies),
			strconv.Itoa(stats.LambdaForms),
		},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(counts).Render(); err != nil {
		return err
	}

	if len(a.Entries) > 0 {
		pterm.DefaultSection.Println("Classpath")
		entries := pterm.TableData{{"#", "Kind", "Size", "Modified", "Path"}}
		for _, e := range a.Entries {
			entries = append(entries, []string{
				strconv.Itoa(e.Index),
				e.Kind.String(),
				strconv.FormatInt(e.Size, 10),
				time.Unix(0, e.ModTime).Format(time.RFC3339),
				e.Path,
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(entries).Render(); err != nil {
			return err
		}
	}

	if inspectJSON != "" {
		summary := archiveSummary{Path: path, Header: a.Header, Stats: stats, Entries: a.Entries}
		if _, err := writer.ForPath[archiveSummary](inspectJSON).WriteToFile(summary, inspectJSON); err != nil {
			return err
		}
		pterm.Success.Println("Summary written to " + inspectJSON)
	}
	if inspectTypes {
		return renderTypes(a)
	}
	return nil
}

// archiveSummary is the JSON form of an inspected archive.
type archiveSummary struct {
	Path    string               `json:"path"`
	Header  archive.Header       `json:"header"`
	Stats   archive.Stats        `json:"stats"`
	Entries []*archive.PathEntry `json:"entries"`
}

func renderTypes(a *archive.Archive) error {
	pterm.DefaultSection.Println("Types")
	rows := pterm.TableData{{"Name", "Super", "Loader", "Entry", "Module"}}
	for i, rec := range a.Types {
		if inspectLimit > 0 && i >= inspectLimit {
			pterm.Info.Printfln("... and %d more types", len(a.Types)-inspectLimit)
			break
		}
		entry := "-"
		if rec.PathIndex != archive.NoIndex {
			entry = strconv.Itoa(rec.PathIndex)
		}
		module := "-"
		if m := a.Module(rec.ModuleIndex); m != nil {
			module = m.Name
		}
		rows = append(rows, []string{rec.Name, a.SuperName(rec), rec.LoaderKind.String(), entry, module})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func inspectSnapshot(cmd *cobra.Command, name string) error {
	if !cfg.Database.Enabled {
		return fmt.Errorf("the catalog database is not enabled")
	}
	repos, err := repository.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer repos.Close()

	reader := repos.Reader()
	snap, err := reader.GetSnapshot(cmd.Context(), name)
	if err != nil {
		return err
	}
	counts, err := reader.CountTypesByLoader(cmd.Context(), snap.ID)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println("Snapshot " + snap.Name)
	info := pterm.TableData{
		{"ID", "Archive", "Compression", "Root Module", "Types", "Created"},
		{
			strconv.FormatInt(snap.ID, 10),
			snap.ArchivePath,
			snap.Compression,
			snap.RootModule,
			strconv.Itoa(snap.Types),
			snap.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(info).Render(); err != nil {
		return err
	}
	if snap.StorageURL != "" {
		pterm.Info.Println("Published at " + snap.StorageURL)
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	rows := pterm.TableData{{"Loader", "Types"}}
	for _, k := range kinds {
		rows = append(rows, []string{k, strconv.Itoa(counts[k])})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
