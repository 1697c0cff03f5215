package cmd

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatsCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := newEngine(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer engine.Close()

			stats, err := engine.Knowledge().GetKnowledgeStats(cmd.Context())
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(stats); err != nil {
				return errors.WithStack(err)
			}

			return nil
		},
	}
}
