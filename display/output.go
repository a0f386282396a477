// Package display renders command results as a pterm table, JSON or YAML.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// Format is an output format name.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// OutputFlag is the persistent flag every command reads its format from.
const OutputFlag = "output"

// ParseFormat validates a format name. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", errors.NewInvalidRequestf("unsupported output format %q (supported: table, json, yaml)", s)
	}
}

// FormatFromCommand reads --output from cmd or its parents.
func FormatFromCommand(cmd *cobra.Command) (Format, error) {
	if cmd == nil {
		return FormatTable, nil
	}
	f := cmd.Flags().Lookup(OutputFlag)
	if f == nil {
		f = cmd.Root().PersistentFlags().Lookup(OutputFlag)
	}
	if f == nil {
		return FormatTable, nil
	}
	return ParseFormat(f.Value.String())
}

// MarshalJSON pretty-prints v.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Render writes v in format. table builds the rows for FormatTable, header
// first; when it is nil the table format falls back to YAML.
func Render(w io.Writer, format Format, v interface{}, table func() pterm.TableData) error {
	switch format {
	case FormatJSON:
		data, err := MarshalJSON(v)
		if err != nil {
			return errors.Wrap(err, "marshal JSON")
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		return renderYAML(w, v)
	case FormatTable, "":
		if table == nil {
			return renderYAML(w, v)
		}
		data := table()
		if len(data) <= 1 {
			_, err := fmt.Fprintln(w, "(none)")
			return err
		}
		out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return errors.Wrap(err, "render table")
		}
		_, err = fmt.Fprintln(w, out)
		return err
	default:
		return errors.NewInvalidRequestf("unsupported output format %q", format)
	}
}

func renderYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "marshal YAML")
	}
	return enc.Close()
}
