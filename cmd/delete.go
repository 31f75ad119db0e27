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

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded video (an unambiguous id prefix is enough)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		video, ok := Videos.Get(args[0])
		if !ok {
			utils.Die("Video not found", fmt.Errorf("no video matches %q", args[0]), nil)
		}

		if !deleteYes && !shell.Confirm(bufio.NewReader(os.Stdin), os.Stdout, shell.DeletePrompt(video.ID)) {
			fmt.Println("Cancelled.")
			return
		}

		Videos.Remove(cmd.Context(), video.ID)
		if err := recorder.NewDir(Cfg.Recorder.ClipDir).Discard(video.Locator); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove clip %s: %v\n", video.Locator, err)
		}
		fmt.Printf("🗑️  Deleted %s\n", shell.Label(video.ID))
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
}
