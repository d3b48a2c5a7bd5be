package banner

import (
	"io"

	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
)

// Print writes the startup banner to w.
func Print(w io.Writer, version string) {
	fig := figure.NewFigure("RGUARD", "doom", true)
	_, _ = color.New(color.FgRed).Fprint(w, fig.String())

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	_, _ = cyan.Fprintln(w, "════════════════════════════════════════════════")
	_, _ = green.Fprintf(w, "    Redirect safety gate %s | https://github.com/selimozcann\n", version)
	_, _ = cyan.Fprintln(w, "════════════════════════════════════════════════")
}
