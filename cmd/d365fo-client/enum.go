package main

import "github.com/spf13/cobra"

func newEnumCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "enum", Short: "Read enumeration metadata"}
	cmd.AddCommand(newEnumGetCmd())
	return cmd
}

func newEnumGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Fetch one enumeration and its members by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			enum, err := client.GetEnumeration(cmd.Context(), args[0])
			if err != nil {
				return cliError(err)
			}
			printJSON(enum)
			return nil
		},
	}
}
