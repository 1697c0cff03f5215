package cmd

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// newSeedCmd loads a curated knowledge CSV into the store and the index.
// Expected columns: content, product_id, knowledge_type, language; a header
// row with those names is skipped.
func newSeedCmd(configFile *string) *cobra.Command {
	params := &struct {
		CSVPath string
	}{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load knowledge entries from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, conf, err := newEngine(cmd.Context(), *configFile)
			if err != nil {
				return err
			}
			defer engine.Close()

			logger := mylogFromConf(conf)

			file, err := os.Open(params.CSVPath)
			if err != nil {
				return errors.Wrapf(err, "failed to open csv file: %s", params.CSVPath)
			}
			defer file.Close()

			reader := csv.NewReader(file)
			service := engine.Knowledge()

			count := 0
			for line := 0; ; line++ {
				record, err := reader.Read()
				if err == io.EOF {
					break
				}
				if err != nil {
					return errors.Wrapf(err, "failed to read csv record at line %d", line+1)
				}
				if len(record) < 4 {
					return errors.Errorf("csv record at line %d has %d columns, expected 4", line+1, len(record))
				}
				if line == 0 && record[0] == "content" {
					continue
				}

				id, err := service.AddKnowledge(cmd.Context(), record[0], record[1], record[2], record[3])
				if err != nil {
					return errors.Wrapf(err, "failed to add knowledge at line %d", line+1)
				}
				logger.Debug("seeded knowledge entry", "id", id, "line", line+1)
				count++
			}

			logger.Info("knowledge base seeded", "entries", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.CSVPath, "csv", "data/knowledge.csv", "Path to the knowledge CSV file")

	return cmd
}
