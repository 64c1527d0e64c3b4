package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"goflare.io/aegis"
)

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		params    []string
		partition string
	)

	cmd := &cobra.Command{
		Use:   "fetch <path>",
		Short: "GET an API path through the cache and retry layers",
		Long: `Fetch performs a cached GET against the configured API.

A fresh cache entry is returned without a network call; otherwise the
request is retried on transient failures and the response is cached
under the given partition.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseParams(params)
			if err != nil {
				return err
			}

			client, err := newClient(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer client.Close()

			body, err := aegis.Get[json.RawMessage](cmd.Context(), client, args[0], query, partition)
			if err != nil {
				if class, ok := aegis.ClassOf(err); ok {
					return fmt.Errorf("fetch failed (%s): %w", class, err)
				}
				return fmt.Errorf("fetch failed: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), body)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&partition, "partition", "entities", "cache partition for the response")

	return cmd
}

func parseParams(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(raw))
	for _, p := range raw {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", p)
		}
		params[k] = v
	}
	return params, nil
}
