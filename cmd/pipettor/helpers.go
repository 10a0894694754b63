package main

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func isTerminal(v any) bool {
	file, ok := v.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// displayName turns identifiers like "wash_buffer" into "Wash Buffer".
func displayName(name string) string {
	cleaned := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	if cleaned == "" {
		return "Unknown"
	}
	return cases.Title(language.Und).String(cleaned)
}

// formatVolume prints microlitres with at most two decimals.
func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

func writeLines(w io.Writer, lines ...string) {
	for _, line := range lines {
		io.WriteString(w, line+"\n")
	}
}
