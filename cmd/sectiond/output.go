package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kalambet/sectiond/internal/render"
	"github.com/kalambet/sectiond/internal/sections"
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

// Output formats for section lists.
const (
	formatJSON     = "json"
	formatText     = "text"
	formatMarkdown = "markdown"
	formatPretty   = "pretty"
)

// writeSections prints secs to w in the requested format. pretty renders
// markdown for the terminal.
func writeSections(w io.Writer, secs []sections.Section, format string, width int) error {
	switch format {
	case formatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(secs)
	case formatText:
		_, err := fmt.Fprintln(w, render.PlainText(secs))
		return err
	case formatMarkdown:
		_, err := fmt.Fprintln(w, render.Markdown(secs))
		return err
	case formatPretty:
		out, err := render.Terminal(render.Markdown(secs), width)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, out)
		return err
	default:
		return fmt.Errorf("unknown format %q (want json, text, markdown or pretty)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
