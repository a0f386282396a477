package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/display"
	"github.com/AlessioChianetta/Coachale-sub034/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show coachale version information",
		Long:  `Display version, build time, commit hash and platform of the coachale binary.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			format, err := display.FormatFromCommand(cmd)
			if err != nil {
				return err
			}
			if format != display.FormatTable {
				return render(cmd, info, nil)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, info.String())
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
			return nil
		},
	}
}
