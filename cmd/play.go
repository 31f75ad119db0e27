package cmd

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/visage/internal/shell"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <id>",
	Short: "Play a recorded video with ffplay",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		video, ok := Videos.Get(args[0])
		if !ok {
			utils.Die("Video not found", fmt.Errorf("no video matches %q", args[0]), nil)
		}

		fmt.Printf("▶️  Playback: %s\n", shell.Label(video.ID))
		player := shell.FFplay{Binary: Cfg.Recorder.Player}
		if err := player.Play(cmd.Context(), video.Locator); err != nil {
			var pe *shell.PlaybackError
			if errors.As(err, &pe) {
				utils.Die("Playback failed", pe.Err, pe.Cmd)
			}
			utils.Die("Playback failed", err, nil)
		}
	},
}

func init() {
	rootCmd.AddCommand(playCmd)
}
