package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

type row struct {
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
}

func rows() pterm.TableData {
	return pterm.TableData{
		{"NAME", "STATUS"},
		{"studio-rossi", "kyc_submitted"},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "JSON": FormatJSON, " yaml ": FormatYAML, "table": FormatTable} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatJSON, []row{{"studio-rossi", "new"}}, rows))
	assert.Contains(t, buf.String(), `"name": "studio-rossi"`)
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatYAML, row{"studio-rossi", "new"}, rows))
	assert.Equal(t, "name: studio-rossi\nstatus: new\n", buf.String())
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTable, nil, rows))
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "kyc_submitted")

	buf.Reset()
	require.NoError(t, Render(&buf, FormatTable, nil, func() pterm.TableData {
		return pterm.TableData{{"NAME"}}
	}))
	assert.Equal(t, "(none)", strings.TrimSpace(buf.String()))
}

func TestRenderTableWithoutRowsFallsBackToYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, FormatTable, row{"a", "b"}, nil))
	assert.Contains(t, buf.String(), "name: a")
}

func TestFormatFromCommand(t *testing.T) {
	root := &cobra.Command{Use: "coachale"}
	root.PersistentFlags().StringP(OutputFlag, "o", "table", "")
	child := &cobra.Command{Use: "ls", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(child)

	require.NoError(t, root.PersistentFlags().Set(OutputFlag, "json"))
	f, err := FormatFromCommand(child)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = FormatFromCommand(nil)
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)
}
