package commands

import (
	"fmt"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/config"
	"github.com/AlessioChianetta/Coachale-sub034/display"
	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

const redacted = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
		Long: `Configuration merges, lowest precedence first: built-in defaults,
/etc/coachale/coachale.toml, ~/.coachale/coachale.toml, the nearest
coachale.toml above the working directory, then COACHALE_* environment
variables. --config replaces the cascade with a single file.`,
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetCmd(), newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Example: `  coachale config show            # toml
  coachale config show -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Provider.APIKey != "" {
				shown.Provider.APIKey = redacted
			}
			if shown.Redis.Password != "" {
				shown.Redis.Password = redacted
			}

			data, err := toml.Marshal(shown)
			if err != nil {
				return errors.Wrap(err, "marshal config")
			}
			format, err := display.FormatFromCommand(cmd)
			if err != nil {
				return err
			}
			if format == display.FormatTable {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			// Round-trip through toml so json and yaml keys match the file
			var doc map[string]interface{}
			if err := toml.Unmarshal(data, &doc); err != nil {
				return errors.Wrap(err, "reparse config")
			}
			return display.Render(cmd.OutOrStdout(), format, doc, nil)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one key to the config file",
		Long: `Write a dotted key to the file named by --config, or ~/.coachale/coachale.toml.
The previous file is kept as a .back1 backup. A running server reloads the
file and drops its cached provider credentials.`,
		Example: `  coachale config set poller.interval_seconds 120
  coachale config set lock.backend redis`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString(flagConfig)
			if path == "" {
				path = config.UserConfigPath()
			}
			if err := config.Set(path, args[0], parseValue(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], path)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "List the config files that were merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString(flagConfig); path != "" {
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}
			if _, err := config.Load(); err != nil {
				return err
			}
			files := config.MergedFiles()
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(defaults only)")
				return nil
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

// parseValue keeps numbers and booleans typed in the toml file.
func parseValue(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
