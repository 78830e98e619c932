package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Jasonzhangf/webauto-sub011/internal/config"
	"github.com/Jasonzhangf/webauto-sub011/internal/observability"
	"github.com/Jasonzhangf/webauto-sub011/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP action server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		logger := observability.GetLogger()

		components, err := buildComponents(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		srv := server.New(cfg.Server, logger, components.Engine, components.Libraries)
		return srv.ListenAndServe(cmd.Context())
	},
}
