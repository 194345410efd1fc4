package format

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// cell is one table entry. The style, when present, wraps the padded text so
// escape sequences never skew column widths.
type cell struct {
	text  string
	style *color.Color
}

// renderTable draws a bordered table sized to its widest cells.
func renderTable(w io.Writer, headers []string, rows [][]cell) error {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, c := range row {
			if n := utf8.RuneCountInString(c.text); n > widths[i] {
				widths[i] = n
			}
		}
	}

	if err := tableRule(w, widths, "╭", "┬", "╮"); err != nil {
		return err
	}
	headerCells := make([]cell, len(headers))
	for i, h := range headers {
		headerCells[i] = cell{text: h}
	}
	if err := tableLine(w, widths, headerCells); err != nil {
		return err
	}
	if err := tableRule(w, widths, "├", "┼", "┤"); err != nil {
		return err
	}
	for _, row := range rows {
		if err := tableLine(w, widths, row); err != nil {
			return err
		}
	}
	return tableRule(w, widths, "╰", "┴", "╯")
}

func tableRule(w io.Writer, widths []int, left, mid, right string) error {
	var b strings.Builder
	b.WriteString(left)
	for i, width := range widths {
		if i > 0 {
			b.WriteString(mid)
		}
		b.WriteString(strings.Repeat("─", width+2))
	}
	b.WriteString(right)
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "writing table")
}

func tableLine(w io.Writer, widths []int, row []cell) error {
	var b strings.Builder
	b.WriteString("│")
	for i, c := range row {
		padded := " " + c.text + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c.text)+1)
		if c.style != nil {
			padded = c.style.Sprint(padded)
		}
		b.WriteString(padded)
		b.WriteString("│")
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "writing table")
}
