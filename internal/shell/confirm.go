package shell

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks a yes/no question. Anything but y or yes, including EOF, means no.
func Confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	return isYes(res)
}

func isYes(answer string) bool {
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

// DeletePrompt is the confirmation shown before a clip is deleted.
func DeletePrompt(id string) string {
	return fmt.Sprintf("⚠️  Delete %s? This cannot be undone.", Label(id))
}
