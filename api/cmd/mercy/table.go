package main

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// newSimpleTable is the same borderless-table setup the teacher's CLI
// commands share via pkg/cli.NewSimpleTable, adapted here rather than
// imported since Mercy has a single list command, not a shared package.
func newSimpleTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleNone),
			Borders: tw.Border{
				Top:    tw.Off,
				Bottom: tw.Off,
				Left:   tw.Off,
				Right:  tw.Off,
			},
			Settings: tw.Settings{
				Separators: tw.Separators{
					BetweenRows:    tw.Off,
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithHeaderAutoFormat(tw.On),
		tablewriter.WithTrimSpace(tw.Off),
	)

	headerAny := make([]any, len(header))
	for i, h := range header {
		headerAny[i] = h
	}
	table.Header(headerAny...)

	return table
}
