package cli

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// newTable returns a table writer mirrored to out.
func newTable(out io.Writer, headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	if noColor {
		tw.SetStyle(table.StyleLight)
	} else {
		tw.SetStyle(table.StyleRounded)
		tw.Style().Color.Header = text.Colors{text.Bold}
	}
	tw.Style().Options.SeparateRows = false
	if len(headers) > 0 {
		tw.AppendHeader(table.Row(headers))
	}
	return tw
}

// rightAlign aligns the given 1-based columns right.
func rightAlign(tw table.Writer, columns ...int) {
	configs := make([]table.ColumnConfig, 0, len(columns))
	for _, n := range columns {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	tw.SetColumnConfigs(configs)
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
