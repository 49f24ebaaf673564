package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mafzaal/d365fo-client-go/infrastructure/config"
	"github.com/mafzaal/d365fo-client-go/internal/profile"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage named client profiles"}
	cmd.AddCommand(newProfileAddCmd(), newProfileListCmd(), newProfileUseCmd())
	return cmd
}

func newProfileAddCmd() *cobra.Command {
	var p profile.Profile
	var authMode string
	var asDefault bool
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Save a named profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Name = args[0]
			p.AuthMode = config.AuthMode(authMode)

			store, err := profile.NewStore(profile.DefaultDir())
			if err != nil {
				return cliError(err)
			}
			if err := store.Save(p); err != nil {
				return cliError(err)
			}
			if asDefault {
				if err := store.SetDefault(p.Name); err != nil {
					return cliError(err)
				}
			}
			fmt.Printf("profile %q saved\n", p.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.BaseURL, "base-url", "", "D365 F&O environment base URL (required)")
	cmd.Flags().StringVar(&authMode, "auth-mode", string(config.AuthModeDefault), "default or client_credentials")
	cmd.Flags().StringVar(&p.ClientID, "client-id", "", "Azure AD application (client) id")
	cmd.Flags().StringVar(&p.ClientSecret, "client-secret", "", "Azure AD application client secret")
	cmd.Flags().StringVar(&p.TenantID, "tenant-id", "", "Azure AD tenant id")
	cmd.Flags().BoolVar(&p.VerifySSL, "verify-ssl", true, "verify the server's TLS certificate")
	cmd.Flags().IntVar(&p.TimeoutSeconds, "timeout-seconds", 60, "HTTP request timeout")
	cmd.Flags().StringVar(&p.Language, "language", "en-US", "label resolution language")
	cmd.Flags().IntVar(&p.SyncIntervalMinutes, "sync-interval-minutes", 60, "minutes between automatic version re-detection")
	cmd.Flags().BoolVar(&asDefault, "default", false, "also set this profile as the default")
	cmd.MarkFlagRequired("base-url")
	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := profile.NewStore(profile.DefaultDir())
			if err != nil {
				return cliError(err)
			}
			names, err := store.List()
			if err != nil {
				return cliError(err)
			}
			def, _ := store.Default()

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Name", "Base URL", "Auth Mode", "Default"})
			for _, name := range names {
				p, err := store.Load(name)
				if err != nil {
					return cliError(err)
				}
				isDefault := ""
				if name == def {
					isDefault = "*"
				}
				table.Append([]string{name, p.BaseURL, string(p.AuthMode), isDefault})
			}
			table.Render()
			return nil
		},
	}
}

func newProfileUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the default profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := profile.NewStore(profile.DefaultDir())
			if err != nil {
				return cliError(err)
			}
			if err := store.SetDefault(args[0]); err != nil {
				return cliError(err)
			}
			fmt.Printf("default profile set to %q\n", args[0])
			return nil
		},
	}
}
