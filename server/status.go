package server

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jonwraymond/kernelmcp/journal"
	"github.com/jonwraymond/kernelmcp/kernel"
)

// StatusText describes the kernel. executions is the number of recorded
// executions on it; a negative value omits the line.
func StatusText(info kernel.Info, executions int) string {
	if !info.Running {
		return "No kernel running"
	}
	// A Caser is stateful; one per call.
	title := cases.Title(language.Und)

	var b strings.Builder
	b.WriteString("Kernel Status:\n")
	fmt.Fprintf(&b, "  ID: %s\n", info.ID)
	fmt.Fprintf(&b, "  Uptime: %.1f seconds\n", info.Uptime.Seconds())
	b.WriteString("  Running: Yes\n")
	if info.ExecutionState != "" {
		fmt.Fprintf(&b, "  State: %s\n", title.String(info.ExecutionState))
	}
	if info.PID > 0 {
		fmt.Fprintf(&b, "  PID: %d\n", info.PID)
	}
	fmt.Fprintf(&b, "  Execution Count: %d\n", info.ExecutionCount)
	if executions >= 0 {
		fmt.Fprintf(&b, "  Recorded Executions: %d\n", executions)
	}
	fmt.Fprintf(&b, "  Restarts: %d\n", info.Restarts)
	if info.Language != "" {
		fmt.Fprintf(&b, "  Language: %s\n", strings.TrimSpace(title.String(info.Language)+" "+info.LanguageVersion))
	}
	if info.Implementation != "" {
		fmt.Fprintf(&b, "  Implementation: %s\n", strings.TrimSpace(title.String(info.Implementation)+" "+info.ImplementationVersion))
	}
	return b.String()
}

// maxCodePreview bounds the first line of code shown per history entry.
const maxCodePreview = 80

// HistoryText lists entries, newest first.
func HistoryText(entries []journal.Entry) string {
	if len(entries) == 0 {
		return "No executions recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent executions (%d, newest first):\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, e.Status, e.Kind)
		if e.ExecutionCount > 0 {
			fmt.Fprintf(&b, " #%d", e.ExecutionCount)
		}
		fmt.Fprintf(&b, " on %s at %s (%dms)", kernel.ShortID(e.KernelID), e.CreatedAt.UTC().Format("2006-01-02 15:04:05Z"), e.DurationMs)
		if e.ImageCount > 0 {
			fmt.Fprintf(&b, ", %d image(s)", e.ImageCount)
		}
		if e.ErrorName != "" {
			fmt.Fprintf(&b, ", %s: %s", e.ErrorName, e.ErrorValue)
		}
		fmt.Fprintf(&b, "\n   %s\n", preview(e.Code))
	}
	return strings.TrimRight(b.String(), "\n")
}

func preview(src string) string {
	line, rest, more := strings.Cut(strings.TrimSpace(src), "\n")
	if r := []rune(line); len(r) > maxCodePreview {
		return string(r[:maxCodePreview]) + "..."
	}
	if more && strings.TrimSpace(rest) != "" {
		return line + " ..."
	}
	return line
}
