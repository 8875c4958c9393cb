package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"assetstore/internal/app"
	"assetstore/internal/config"
	"assetstore/internal/model"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, lineDecoder{}, app.OpID())
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "assetstore",
	Short: "Embedded content-addressed beatmap-set asset library",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Log Level: %s\n", cfg.LogLevel)
		fmt.Printf("Blob Root: %s\n", cfg.Blobstore.Root)
		fmt.Printf("DB Path:   %s\n", cfg.Database.Path)
		fmt.Printf("GC Every:  %s\n", cfg.GC.Interval)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import ARCHIVE",
	Short: "Import a beatmap-set archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lowPriority, _ := cmd.Flags().GetBool("low-priority")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		archivePath, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		archive, closeArchive, err := openZipArchive(archivePath)
		if err != nil {
			return err
		}
		defer closeArchive()

		handle, err := a.Import(context.Background(), archive, lowPriority)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		return handle.PerformRead(context.Background(), func(set model.BeatmapSet) error {
			fmt.Printf("Imported %s as set %s (%d beatmap(s))\n", archivePath, set.ID, len(set.Beatmaps))
			return nil
		})
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove blobs no longer referenced by any beatmap set",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.GC(context.Background()); err != nil {
			return fmt.Errorf("gc failed: %w", err)
		}
		fmt.Println("gc complete")
		return nil
	},
}

var listSetsCmd = &cobra.Command{
	Use:   "list-sets",
	Short: "List recorded beatmap sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sets, err := a.ListSets(context.Background())
		if err != nil {
			return err
		}

		if len(sets) == 0 {
			fmt.Println("No beatmap sets recorded.")
			return nil
		}

		hashCol := 12
		if tableWidth() < 70 {
			hashCol = 8
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tHASH\tBEATMAPS\tDATE ADDED")
		for _, s := range sets {
			hash := s.Hash
			if len(hash) > hashCol {
				hash = hash[:hashCol]
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
				s.ID, hash, len(s.Beatmaps), s.DateAdded.Format("2006-01-02 15:04:05"))
		}
		tw.Flush()
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "db-status",
	Short: "Report the database schema version, optionally repairing a dirty migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		repair, _ := cmd.Flags().GetBool("repair")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if repair {
			if err := a.RepairSchema(); err != nil {
				return fmt.Errorf("repairing schema: %w", err)
			}
		}

		status, err := a.SchemaStatus()
		if err != nil {
			fmt.Printf("Schema version %d of %d: %v\n", status.Version, status.Latest, err)
			return err
		}
		fmt.Printf("Schema version %d of %d, up to date\n", status.Version, status.Latest)
		return nil
	},
}

var quiesceBackupCmd = &cobra.Command{
	Use:   "quiesce-backup DEST",
	Short: "Take exclusive ownership of the database and snapshot it to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		dest, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		if err := a.QuiesceBackup(context.Background(), dest); err != nil {
			return fmt.Errorf("quiesce-backup failed: %w", err)
		}
		fmt.Printf("Database snapshot written to %s\n", dest)
		return nil
	},
}

// tableWidth reports the terminal width for list-sets' column sizing,
// falling back to a conservative default when stdout isn't a terminal.
func tableWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return 80
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	importCmd.Flags().Bool("low-priority", false, "submit to the low-priority import queue")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(listSetsCmd)
	rootCmd.AddCommand(quiesceBackupCmd)

	dbStatusCmd.Flags().Bool("repair", false, "clear a dirty migration flag before reporting status")
	rootCmd.AddCommand(dbStatusCmd)
}
