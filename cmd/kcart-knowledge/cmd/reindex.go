package cmd

import (
	"github.com/spf13/cobra"
)

// newReindexCmd rebuilds the semantic index from the relational store. Use
// it after losing the index directory or switching embedding models.
func newReindexCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the semantic index from the knowledge store",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, conf, err := newEngine(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Knowledge().Reindex(cmd.Context()); err != nil {
				return err
			}

			mylogFromConf(conf).Info("index rebuilt")
			return nil
		},
	}
}
