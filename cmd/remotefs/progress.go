package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/ruffel/remotefs/transport"
)

// installProgress draws a one-line status for the agent upload on w.
func installProgress(w io.Writer) transport.ProgressFunc {
	return func(current, total int64) {
		line := "installing agent " + formatSize(current)
		if total > 0 {
			line = fmt.Sprintf("installing agent %3d%% %s/%s", current*100/total, formatSize(current), formatSize(total))
		}

		_, _ = fmt.Fprint(w, "\r"+dimStyle.Render(line))

		if total > 0 && current >= total {
			_, _ = fmt.Fprintln(w, " "+checkStyle.Render("done"))
		}
	}
}

// stderrProgress reports upload progress when stderr is a terminal.
func stderrProgress() transport.ProgressFunc {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}

	return installProgress(os.Stderr)
}

func formatSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
