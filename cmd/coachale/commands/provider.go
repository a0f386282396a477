package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/config"
	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
)

func newProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage provider credentials",
		Long: `Store and check the master credentials used for every provider call.

With provider.credential_source = "database" (the default) credentials live in
the provider_config table, so every process sharing the database picks up a
rotated key within provider.cache_ttl_seconds. With "config" they are written to
the config file instead.`,
	}
	cmd.AddCommand(newProviderSetCmd(), newProviderStatusCmd(), newProviderBalanceCmd())
	return cmd
}

func newProviderSetCmd() *cobra.Command {
	var creds provider.Credentials
	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Store master credentials",
		Example: `  coachale provider set --api-key KEY... --connection-id 1684641123236054244`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.APIKey == "" {
				return errors.WithHint(errors.New("--api-key is required"),
					"the key is shown once in the provider portal under API Keys")
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Provider.CredentialSource == config.CredentialSourceConfig {
				path := a.configPath
				if path == "" {
					path = config.UserConfigPath()
				}
				for key, value := range map[string]string{
					"provider.api_key":                   creds.APIKey,
					"provider.connection_id":             creds.ConnectionID,
					"provider.outbound_voice_profile_id": creds.OutboundVoiceProfileID,
				} {
					if value == "" {
						continue
					}
					if err := config.Set(path, key, value); err != nil {
						return err
					}
				}
				pterm.Success.Printf("Provider credentials written to %s\n", path)
				return nil
			}

			src, err := a.sqlSource()
			if err != nil {
				return err
			}
			if err := src.Save(cmd.Context(), creds); err != nil {
				return err
			}
			a.creds.Invalidate()
			pterm.Success.Printf("Provider credentials stored for %s\n", a.cfg.Provider.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&creds.APIKey, "api-key", "", "Master API key")
	cmd.Flags().StringVar(&creds.ConnectionID, "connection-id", "", "Voice connection id numbers are attached to")
	cmd.Flags().StringVar(&creds.OutboundVoiceProfileID, "outbound-voice-profile-id", "", "Outbound voice profile id")
	return cmd
}

type providerStatus struct {
	Provider               string `json:"provider" yaml:"provider"`
	BaseURL                string `json:"base_url" yaml:"base_url"`
	CredentialSource       string `json:"credential_source" yaml:"credential_source"`
	Configured             bool   `json:"configured" yaml:"configured"`
	ConnectionID           string `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	OutboundVoiceProfileID string `json:"outbound_voice_profile_id,omitempty" yaml:"outbound_voice_profile_id,omitempty"`
}

func newProviderStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether credentials are configured, without the key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st := providerStatus{
				Provider:         a.cfg.Provider.Name,
				BaseURL:          a.cfg.Provider.BaseURL,
				CredentialSource: a.cfg.Provider.CredentialSource,
			}
			creds, err := a.creds.Get(cmd.Context())
			switch {
			case err == nil:
				st.Configured = true
				st.ConnectionID = creds.ConnectionID
				st.OutboundVoiceProfileID = creds.OutboundVoiceProfileID
			case !errors.Is(err, provider.ErrNotConfigured):
				return err
			}

			return render(cmd, st, func() pterm.TableData {
				configured := "no"
				if st.Configured {
					configured = "yes"
				}
				return pterm.TableData{
					{"PROVIDER", "SOURCE", "CONFIGURED", "CONNECTION"},
					{st.Provider, st.CredentialSource, configured, st.ConnectionID},
				}
			})
		},
	}
}

func newProviderBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the master account balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			bal, err := a.client.GetBalance(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd, bal, func() pterm.TableData {
				return pterm.TableData{
					{"BALANCE", "CREDIT LIMIT", "AVAILABLE", "CURRENCY"},
					{bal.Balance, bal.CreditLimit, bal.AvailableCredit, bal.Currency},
				}
			})
		},
	}
}

// printNotConfigured is shown by commands that need credentials.
func printNotConfigured(cmd *cobra.Command) {
	fmt.Fprintln(cmd.ErrOrStderr(), "Provider credentials are not configured; run: coachale provider set --api-key ...")
}
