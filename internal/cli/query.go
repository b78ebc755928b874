package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasmeta/reindexer/internal/vector"
)

var queryFlags struct {
	size      int
	threshold float64
	filters   []string
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a semantic search over the vector index",
	Long: `Embed the query text and run a filtered kNN search, grouping chunk
hits back into entities.

Filters take key=value form; the keys match the index fields (owners,
tags, domains, tier, entityType, serviceType, customProperties.<name>).
The sentinel values __ANY__ and __NONE__ match presence and absence.

Examples:
  reindexer query "customer revenue tables"
  reindexer query "orders" --filter tier=Tier.Tier1 --filter owners=__ANY__`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.IntVar(&queryFlags.size, "size", 10, "maximum entities returned")
	f.Float64Var(&queryFlags.threshold, "threshold", 0, "minimum similarity score")
	f.StringArrayVar(&queryFlags.filters, "filter", nil, "key=value filter, repeatable")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	filters := make(map[string]string, len(queryFlags.filters))
	for _, raw := range queryFlags.filters {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("invalid filter %q, expected key=value", raw)
		}
		filters[key] = value
	}

	client, err := newSearchClient()
	if err != nil {
		return err
	}
	vectorSvc, err := newVectorService(client)
	if err != nil {
		return fmt.Errorf("vector pipeline: %w", err)
	}

	results, err := vectorSvc.Search(context.Background(), args[0], vector.SearchRequest{
		Size:      queryFlags.size,
		Threshold: queryFlags.threshold,
		Filters:   filters,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. %s (score %.4f, %d chunks)\n", i+1, r.ParentID, r.Score, len(r.Chunks))
		if len(r.Chunks) > 0 {
			var chunk struct {
				FQN  string `json:"fqn"`
				Name string `json:"name"`
			}
			if err := json.Unmarshal(r.Chunks[0], &chunk); err == nil && chunk.FQN != "" {
				fmt.Printf("    %s\n", chunk.FQN)
			}
		}
	}
	return nil
}
