package main

import "github.com/spf13/cobra"

func newEnvCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "env", Short: "Inspect the active environment"}
	cmd.AddCommand(newEnvInfoCmd())
	return cmd
}

func newEnvInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the active global version, counts, and last sync time",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			info, err := client.GetEnvironmentInfo(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			printJSON(info)
			return nil
		},
	}
}
