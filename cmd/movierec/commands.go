package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func recommendCmd() *cobra.Command {
	var topN int

	cmd := &cobra.Command{
		Use:   "recommend [userId]",
		Short: "Print recommendations for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res := a.engine.GetRecommendations(cmd.Context(), userID, topN)
			return printJSON(res)
		},
	}

	cmd.Flags().IntVarP(&topN, "top-n", "n", 0, "number of recommendations (0 = recommend.default_top_n)")
	return cmd
}

func similarCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "similar [movieId]",
		Short: "Print the movies most similar to a movie by tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			movieID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid movie id %q", args[0])
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			similar, err := a.engine.SimilarMovies(cmd.Context(), movieID, k)
			if err != nil {
				return err
			}
			return printJSON(similar)
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 10, "number of neighbors")
	return cmd
}

func importCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import [seed.yaml]",
		Short: "Import users, movies and ratings from a seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if force {
				return a.importSeed(cmd.Context(), args[0])
			}
			return a.seedIfEmpty(cmd.Context(), args[0])
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "import even if the repository already has data")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
