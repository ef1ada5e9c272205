// Package ui renders command output for humans and scripts. Interactive
// terminals get pterm styling, pipes get plain text and --format json
// gets stable machine readable documents.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pterm/pterm"
)

// ModuleRow is one line of the modules listing.
type ModuleRow struct {
	Name       string `json:"name"`
	Listener   string `json:"listener"`
	Event      string `json:"event"`
	NextChange string `json:"next_change"`
}

// RenderModules writes the modules listing in the requested format.
func RenderModules(output io.Writer, format Format, rows []ModuleRow) error {
	switch resolve(format, output) {
	case FormatJSON:
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)

	case FormatTerminal:
		data := pterm.TableData{{"MODULE", "LISTENER", "EVENT", "NEXT CHANGE"}}
		for _, row := range rows {
			data = append(data, []string{row.Name, row.Listener, row.Event, row.NextChange})
		}
		return pterm.DefaultTable.
			WithHasHeader().
			WithWriter(output).
			WithData(data).
			Render()

	default:
		writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
		fmt.Fprintln(writer, "MODULE\tLISTENER\tEVENT\tNEXT CHANGE")
		for _, row := range rows {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
				row.Name, row.Listener, row.Event, row.NextChange)
		}
		return writer.Flush()
	}
}

// Success reports a completed operation.
func Success(output io.Writer, format Format, message string) {
	if resolve(format, output) == FormatTerminal {
		pterm.Success.WithWriter(output).Println(message)
		return
	}
	fmt.Fprintln(output, message)
}

// Failure reports a failed operation.
func Failure(output io.Writer, format Format, message string) {
	if resolve(format, output) == FormatTerminal {
		pterm.Error.WithWriter(output).Println(message)
		return
	}
	fmt.Fprintln(output, "error: "+message)
}
