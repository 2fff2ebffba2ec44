// Package output provides consistent CLI output formatting: styled text for
// terminals, plain text for pipes and indented JSON for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Options controls how a Writer renders.
type Options struct {
	// JSON renders every structured value as indented JSON.
	JSON bool
	// NoColor disables styling even on a terminal.
	NoColor bool
}

// Writer provides formatted output for CLI.
type Writer struct {
	out      io.Writer
	styles   Styles
	useColor bool
	json     bool
}

// New creates a Writer that colors output only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return NewWithOptions(out, Options{})
}

// NewWithOptions creates a Writer with explicit options.
func NewWithOptions(out io.Writer, opts Options) *Writer {
	useColor := !opts.NoColor && !opts.JSON && IsTTY(out) && !DetectNoColor()
	styles := NoColorStyles()
	if useColor {
		styles = DefaultStyles()
	}
	return &Writer{out: out, styles: styles, useColor: useColor, json: opts.JSON}
}

// JSONMode reports whether structured values are rendered as JSON.
func (w *Writer) JSONMode() bool { return w.json }

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✅"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("⚠️ "), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("❌"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// Field prints an aligned "label: value" line.
func (w *Writer) Field(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Label.Render(fmt.Sprintf("%-16s", label+":")), value)
}

// Code prints a block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Panel prints content inside a bordered box on terminals and indented otherwise.
func (w *Writer) Panel(content string) {
	if !w.useColor {
		w.Code(content)
		return
	}
	_, _ = fmt.Fprintln(w.out, w.styles.Panel.Render(content))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints a progress bar with message.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)

	// Carriage return for in-place updates.
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", w.styles.Success.Render(bar), pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
