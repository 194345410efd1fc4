package format

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

type (
	// Options control rendering behavior.
	Options struct {
		// Color enables ANSI styling. Even when set, styling is suppressed
		// if the process cannot detect a color-capable terminal.
		Color bool

		// TimeLayout renders installed_on timestamps in the info table.
		// Empty means the Defaults layout.
		TimeLayout string
	}

	// Renderer writes engine reports to a single destination.
	Renderer struct {
		w    io.Writer
		opts Options
		pal  palette
	}

	// palette holds the styles shared across reports. Entries are disabled
	// rather than dropped when color is off, so call sites stay uniform.
	palette struct {
		ok      *color.Color
		okHdr   *color.Color
		warn    *color.Color
		warnHdr *color.Color
		fail    *color.Color
		failHdr *color.Color
		info    *color.Color
		note    *color.Color
		dim     *color.Color
	}
)

// Defaults are the options the CLI uses: colored output and timestamps with
// second precision.
var Defaults = Options{
	Color:      true,
	TimeLayout: "2006-01-02 15:04:05",
}

// New creates a Renderer writing to w.
func New(w io.Writer, opts Options) *Renderer {
	if opts.TimeLayout == "" {
		opts.TimeLayout = Defaults.TimeLayout
	}
	return &Renderer{w: w, opts: opts, pal: newPalette(opts.Color)}
}

func newPalette(enabled bool) palette {
	p := palette{
		ok:      color.New(color.FgHiGreen),
		okHdr:   color.New(color.FgHiGreen, color.Bold),
		warn:    color.New(color.FgYellow),
		warnHdr: color.New(color.FgYellow, color.Bold),
		fail:    color.New(color.FgHiRed),
		failHdr: color.New(color.FgHiRed, color.Bold),
		info:    color.New(color.FgCyan),
		note:    color.New(color.FgBlue),
		dim:     color.New(color.Faint),
	}
	if !enabled {
		for _, c := range []*color.Color{
			p.ok, p.okHdr, p.warn, p.warnHdr, p.fail, p.failHdr, p.info, p.note, p.dim,
		} {
			c.DisableColor()
		}
	}
	return p
}

// JSON writes any report as a single indented JSON document. This is the
// machine half of every command's --json flag; field names are part of the
// output contract.
func (r *Renderer) JSON(report any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(report), "encoding report")
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return errors.Wrap(err, "writing report")
		}
	}
	return nil
}
