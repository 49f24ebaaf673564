package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newLabelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "label", Short: "Resolve label ids to display text"}
	cmd.AddCommand(newLabelGetCmd(), newLabelBatchCmd())
	return cmd
}

func newLabelGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <label-id>",
		Short: "Resolve one label id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			text, found, err := client.GetLabel(cmd.Context(), args[0])
			if err != nil {
				return cliError(err)
			}
			printJSON(map[string]any{"label_id": args[0], "text": text, "found": found})
			return nil
		},
	}
}

func newLabelBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <label-id,label-id,...>",
		Short: "Resolve a comma separated batch of label ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			ids := strings.Split(args[0], ",")
			resolved, err := client.GetLabelsBatch(cmd.Context(), ids)
			if err != nil {
				return cliError(err)
			}
			printJSON(resolved)
			return nil
		},
	}
}
