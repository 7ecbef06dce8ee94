package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"dvetransfer/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

// statusStyles is indexed by statusKind.
var statusStyles = [...]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

func styleFor(kind statusKind) (string, string) {
	if kind < 0 || int(kind) >= len(statusStyles) {
		return statusStyles[statusInfo].label, ""
	}
	s := statusStyles[kind]
	return s.label, s.color
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	name, color := styleFor(kind)
	tag := "[" + name + "]"
	if message != "" {
		tag += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", tag)
	if colorize && color != "" {
		return color + line + ansiReset
	}
	return line
}

// writeSection prints a titled section header followed by a rule.
func writeSection(w io.Writer, title string, colorize bool) {
	heading := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(heading))
	if colorize {
		heading, rule = ansiBlue+heading+ansiReset, ansiBlue+rule+ansiReset
	}
	fmt.Fprintln(w, heading)
	fmt.Fprintln(w, rule)
}

// shouldColorize reports whether w is a terminal. NO_COLOR disables color.
func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusKindFor(passed bool, failure statusKind) statusKind {
	if passed {
		return statusOK
	}
	return failure
}

// stageKind grades a stage: stopped is an error, recent failures or poll
// errors are a warning.
func stageKind(st api.StageStatus) statusKind {
	switch {
	case !st.Running:
		return statusError
	case st.LastError != "", st.PollErrors > 0, st.Failed > 0:
		return statusWarn
	default:
		return statusOK
	}
}

func stageSummary(st api.StageStatus) string {
	if !st.Running {
		return "stopped"
	}
	summary := fmt.Sprintf("%d processed, %d failed, %d rejected", st.Processed, st.Failed, st.Rejected)
	if st.LastError != "" {
		summary += "; last error at " + st.LastErrorAt + ": " + st.LastError
	}
	return summary
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
