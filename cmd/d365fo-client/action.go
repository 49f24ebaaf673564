package main

import (
	"github.com/spf13/cobra"

	"github.com/mafzaal/d365fo-client-go/internal/domain"
)

func newActionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "action", Short: "Read bound/unbound entity actions"}
	cmd.AddCommand(newActionListCmd())
	return cmd
}

func newActionListCmd() *cobra.Command {
	var bindingKind, namePattern string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list <entity-name>",
		Short: "List actions bound to a public entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			actions, err := client.GetActions(cmd.Context(), args[0], domain.BindingKind(bindingKind), namePattern, limit, offset)
			if err != nil {
				return cliError(err)
			}
			printJSON(actions)
			return nil
		},
	}
	cmd.Flags().StringVar(&bindingKind, "binding-kind", "", "restrict to one binding kind (Unbound, BoundToEntitySet, BoundToEntity)")
	cmd.Flags().StringVar(&namePattern, "name-pattern", "", "restrict to action names matching this SQL LIKE pattern")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset into the result set")
	return cmd
}
