package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	knowledgeengine "github.com/kcartbot/knowledge-engine"
	"github.com/kcartbot/knowledge-engine/config"
	"github.com/kcartbot/knowledge-engine/internal/mylog"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	params := &struct {
		ConfigFile string
	}{}

	cmd := &cobra.Command{
		Use:           "kcart-knowledge",
		Short:         "Knowledge retrieval engine for the kcart agri-commerce assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&params.ConfigFile, "config", "c", "", "Path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(&params.ConfigFile),
		newSeedCmd(&params.ConfigFile),
		newStatsCmd(&params.ConfigFile),
		newReindexCmd(&params.ConfigFile),
	)

	return cmd
}

// newEngine builds an Engine from the config file, the environment, and
// defaults, in that order of precedence.
func newEngine(ctx context.Context, configFile string) (*knowledgeengine.Engine, *config.Config, error) {
	// .env is a convenience for local runs; missing is fine
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	conf, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := mylog.NewLogger(conf.Log.LogLevel, conf.Log.LogHandler)

	engine, err := knowledgeengine.NewEngine(ctx,
		knowledgeengine.WithKnowledgeConfig(&conf.Knowledge),
		knowledgeengine.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	return engine, conf, nil
}

func mylogFromConf(conf *config.Config) *mylog.Logger {
	return mylog.NewLogger(conf.Log.LogLevel, conf.Log.LogHandler)
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}
