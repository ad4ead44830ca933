package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dialwatch/internal/calls"
	"dialwatch/internal/snapshot"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

// stateLabel renders a machine state like "in_progress" as "In Progress".
func stateLabel[S ~string](state S) string {
	return titleCaser.String(strings.ReplaceAll(string(state), "_", " "))
}

func stateColor(state calls.RecipientState) string {
	switch state {
	case calls.RecipientCompleted:
		return ansiGreen
	case calls.RecipientFailed:
		return ansiRed
	case calls.RecipientInProgress:
		return ansiYellow
	default:
		return ""
	}
}

func colorizeState(state calls.RecipientState, colorize bool) string {
	label := stateLabel(state)
	if !colorize {
		return label
	}
	if color := stateColor(state); color != "" {
		return color + label + ansiReset
	}
	return label
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func overallLabel(snap *snapshot.Campaign) string {
	label := stateLabel(snap.OverallState)
	if snap.Degraded {
		label += " (degraded)"
	}
	return label
}

func countsSummary(counts snapshot.Counts) string {
	return fmt.Sprintf("%d total / %d pending / %d in progress / %d completed / %d failed / %d enriched",
		counts.Total, counts.Pending, counts.InProgress, counts.Completed, counts.Failed, counts.Enriched)
}
