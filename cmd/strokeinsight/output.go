package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/summary"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// fitWidth truncates or pads s to exactly width terminal cells.
func fitWidth(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

func riskLabel(r summary.Risk) string {
	switch r {
	case summary.RiskHigh:
		return colorize(colorRed, string(r))
	case summary.RiskMedium:
		return colorize(colorYellow, string(r))
	default:
		return colorize(colorGreen, string(r))
	}
}

func printSummary(s summary.Summary) {
	printStatus("Patients", "%d", s.TotalCount)
	printStatus("Stroke", "%d (%.2f%%)", s.StrokeCount, s.StrokePercentage)
	printStatus("No stroke", "%d (%.2f%%)", s.NoStrokeCount, s.NoStrokePercentage)
	printStatus("Risk", "%s", riskLabel(s.Risk))
}

// printFailure explains a failed prediction with the catalog's suggestion.
func printFailure(code prediction.Kind, message string, missing []string, issues []dataset.TypeIssue) {
	info := prediction.Describe(code)
	printError("%s: %s", info.Title, message)
	if len(missing) > 0 {
		printStatus("Missing columns", "%s", strings.Join(missing, ", "))
	}
	for _, is := range issues {
		printStatus("Column "+is.Column, "expected %s, got %s", is.ExpectedType, is.ReceivedType)
	}
	printStep("%s", info.Suggestion)
}
