package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mafzaal/d365fo-client-go/internal/search"
)

func newSearchCmd() *cobra.Command {
	var entityTypes, category, isReadOnly, dataServiceEnabled string
	var limit, offset int
	var fulltext bool
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search cached metadata by name, label, or property text",
		Args:  cobra.ExactArgs(1),
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
			serviceEnabled, err := optionalBool(dataServiceEnabled)
			if err != nil {
				return cliError(err)
			}

			q := search.Query{
				Text:        args[0],
				Limit:       limit,
				Offset:      offset,
				UseFulltext: fulltext,
				Filters: search.Filters{
					EntityCategory:     category,
					IsReadOnly:         readOnly,
					DataServiceEnabled: serviceEnabled,
				},
			}
			if entityTypes != "" {
				q.EntityTypes = strings.Split(entityTypes, ",")
			}

			results, err := client.Search(cmd.Context(), q)
			if err != nil {
				return cliError(err)
			}
			printJSON(results)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityTypes, "entity-types", "", "comma separated entity types to restrict to")
	cmd.Flags().StringVar(&category, "category", "", "restrict to one entity category")
	cmd.Flags().StringVar(&isReadOnly, "is-read-only", "", "restrict to entities matching this read-only flag (true/false)")
	cmd.Flags().StringVar(&dataServiceEnabled, "data-service-enabled", "", "restrict to entities matching this data-service-enabled flag (true/false)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset into the result set")
	cmd.Flags().BoolVar(&fulltext, "fulltext", true, "use FTS ranking instead of a plain name substring match")
	return cmd
}
