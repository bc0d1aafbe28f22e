package cli

import (
	"github.com/jaennil/guide_helper/backend/tilecache/internal/app"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/config"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Run the tile HTTP server",
		Long:         "Run the tile HTTP server. Configuration is read from the environment and an optional .env file.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			return app.Run(cfg)
		},
	}
}
