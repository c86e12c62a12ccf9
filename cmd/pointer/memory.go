package main

import (
	"errors"
	"fmt"
	"strings"

	"github/itish2003/pointer/cloud"
	"github/itish2003/pointer/dispatcher"

	"github.com/spf13/cobra"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage the backend's retrieval memory",
	}
	cmd.AddCommand(memoryIngestCmd())
	cmd.AddCommand(memorySearchCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every stored chunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := memoryClient()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			if err := client.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "memory cleared")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print the number of stored chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := memoryClient()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			count, err := client.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d chunks\n", count)
			return nil
		},
	})
	return cmd
}

func memoryIngestCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Chunk, embed and store text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := memoryClient()
			if err != nil {
				return err
			}
			var metadata map[string]interface{}
			if source != "" {
				metadata = map[string]interface{}{"origin": source}
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			n, err := client.Ingest(ctx, strings.Join(args, " "), metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "origin", "", "free-form origin stored with every chunk")
	return cmd
}

func memorySearchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find the stored chunks closest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := memoryClient()
			if err != nil {
				return err
			}
			if topK < 1 {
				topK = cfg.Cloud.TopK
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			matches, err := client.Search(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for i, m := range matches {
				fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, m.Score, m.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of matches (default: rag_top_k from the config)")
	return cmd
}

// memoryClient needs an endpoint and a token but not the enabled flag; memory commands are explicit.
func memoryClient() (*cloud.Client, error) {
	routing := dispatcher.Snapshot(cfgPath, log)
	if routing.BaseURL() == "" || routing.Token == "" {
		return nil, errors.New("cloud endpoint and api_token must be set in the config file")
	}
	return cloud.New(routing, nil, log), nil
}
