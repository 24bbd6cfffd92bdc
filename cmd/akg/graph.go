package main

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/akg"
	"github.com/brunobiangulo/akg/resolve"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Merge persisted pronoun entities into their referents",
	Long: `Sweep finds entities whose name is a pronoun ("it", "the company",
"we") and merges each into the canonical entity it refers to for the
given document context. Only one sweep may run per database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		docCtx, _ := cmd.Flags().GetString("context")

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		lock := flock.New(s.cfg.DatabasePath() + ".sweep.lock")
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring sweep lock: %w", err)
		}
		if !locked {
			return akg.ErrSweepInProgress
		}
		defer func() { _ = lock.Unlock() }()

		report, err := s.engine.SweepPronouns(cmd.Context(), docCtx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source> <target>",
	Short: "Fold one entity into another",
	Long: `Merge moves every relationship of source onto target and deletes
source. Both arguments may be an entity id or an exact entity name.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := s.engine.Merge(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List canonical types or suggest types for text",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		suggest, _ := cmd.Flags().GetString("suggest")
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if suggest != "" {
			return printJSON(cmd.OutOrStdout(), s.engine.SuggestTypes(suggest, limit))
		}
		return printJSON(cmd.OutOrStdout(), s.engine.TypeStats())
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph and document counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		st, err := s.engine.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

func init() {
	sweepCmd.Flags().String("context", resolve.ContextGeneral, "Document context used to resolve pronouns")
	typesCmd.Flags().String("suggest", "", "Rank labels against this text")
	typesCmd.Flags().Int("limit", 5, "Maximum suggestions per namespace")
}
