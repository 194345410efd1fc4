// Package format renders engine reports for people and for machines.
//
// Every command produces a typed report from pkg/engine; this package owns
// how those reports look. The text renderers write line reports and bordered
// tables with ANSI color, and JSON writes the same report as one stable
// document for scripting.
//
// Usage:
//
//	r := format.New(os.Stdout, format.Defaults)
//
//	report, err := eng.Migrate(ctx, opts)
//	if report != nil {
//		_ = r.Migrate(report)
//	}
//
//	// Machine output for --json
//	r := format.New(os.Stdout, format.Options{Color: false})
//	_ = r.JSON(report)
//
// Styling degrades automatically: color is dropped when disabled through
// Options or when the destination is not a terminal.
package format
