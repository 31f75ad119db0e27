package cmd

import (
	"encoding/json"
	"os"

	"github.com/andresmejia3/visage/internal/shell"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded videos, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		runList()
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print the stored records as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList() {
	videos := Videos.Videos()
	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if videos == nil {
			videos = []types.RecordedVideo{}
		}
		if err := enc.Encode(videos); err != nil {
			utils.Die("Failed to encode videos", err, nil)
		}
		return
	}
	shell.RenderList(os.Stdout, videos)
}
