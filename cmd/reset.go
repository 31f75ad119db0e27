package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/andresmejia3/visage/internal/recorder"
	"github.com/andresmejia3/visage/internal/shell"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetList  bool
	resetClips bool
	resetTable bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored state (video list, clip files, database table)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetList && !resetClips && !resetTable {
			resetList = true
			resetClips = true
			resetTable = DB != nil
		}

		reader := bufio.NewReader(os.Stdin)

		if resetList {
			if shell.Confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to forget all %d recorded videos?", Videos.Len())) {
				fmt.Println("🗑️  Clearing Video List...")
				Videos.Clear(cmd.Context())
			}
		}

		if resetClips {
			if shell.Confirm(reader, os.Stdout, "⚠️  Are you sure you want to delete all clip files in "+Cfg.Recorder.ClipDir+"?") {
				fmt.Println("🗑️  Clearing Clip Files...")
				if err := recorder.NewDir(Cfg.Recorder.ClipDir).Purge(); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", Cfg.Recorder.ClipDir, err)
				}
			}
		}

		if resetTable {
			if DB == nil {
				utils.Die("Database reset requested", fmt.Errorf("storage backend is %q, not postgres", Cfg.Storage.Backend), nil)
			}
			if shell.Confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP the visage database table?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetList, "list", false, "Clear the recorded video list")
	resetCmd.Flags().BoolVar(&resetClips, "clips", false, "Delete clip files")
	resetCmd.Flags().BoolVar(&resetTable, "table", false, "Drop the PostgreSQL table (postgres backend only)")
	rootCmd.AddCommand(resetCmd)
}
