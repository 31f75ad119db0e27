package shell

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/visage/internal/types"
)

// Label is the display name of a clip.
func Label(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "Recording-" + id
}

// RenderList writes the clip table, newest first.
func RenderList(out io.Writer, videos []types.RecordedVideo) {
	if len(videos) == 0 {
		fmt.Fprintln(out, "🎞️  No Videos Recorded Yet")
		fmt.Fprintln(out, "   Press r to start recording.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tRECORDED\tID\tLOCATION")
	fmt.Fprintln(w, "----\t--------\t--\t--------")
	for _, v := range videos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", Label(v.ID), v.RecordedAt, v.ID, v.Locator)
	}
	w.Flush()
}
