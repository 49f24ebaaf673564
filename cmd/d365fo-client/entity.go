package main

import (
	"github.com/spf13/cobra"

	"github.com/mafzaal/d365fo-client-go/internal/domain"
)

func newEntityCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "entity", Short: "Read entity metadata"}
	cmd.AddCommand(newEntityGetCmd(), newEntityListCmd())
	return cmd
}

func newEntityGetCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Fetch one data or public entity by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			entity, err := client.GetEntity(cmd.Context(), args[0], domain.EntityKind(kind))
			if err != nil {
				return cliError(err)
			}
			printJSON(entity)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.EntityKindData), "entity kind: data or public")
	return cmd
}

func newEntityListCmd() *cobra.Command {
	var category, isReadOnly string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List data entities, optionally filtered by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context())
			if err != nil {
				return cliError(err)
			}
			defer client.Close()

			readOnly, err := optionalBool(isReadOnly)
			if err != nil {
				return cliError(err)
			}

			entities, err := client.ListEntities(cmd.Context(), category, readOnly, limit, offset)
			if err != nil {
				return cliError(err)
			}
			printJSON(entities)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by exact entity category (Master, Transaction, Document, Reference, Parameter, Miscellaneous)")
	cmd.Flags().StringVar(&isReadOnly, "is-read-only", "", "restrict to entities matching this read-only flag (true/false)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entities to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset into the result set")
	return cmd
}
