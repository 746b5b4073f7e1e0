package commands

import (
	"github.com/spf13/cobra"

	"pairline/cmd/internal/app"
)

func serveCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
		logFmt   string
		dataDir  string
		driver   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFmt
			}
			if flags.Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if flags.Changed("driver") {
				cfg.Driver = driver
			}
			return app.Run(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PAIRLINE_HTTP_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides PAIRLINE_LOG_LEVEL)")
	cmd.Flags().StringVar(&logFmt, "log-format", "", "json|pretty (overrides PAIRLINE_LOG_FORMAT)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "credential store root (overrides PAIRLINE_DATA_DIR)")
	cmd.Flags().StringVar(&driver, "driver", "", "sim|bridge (overrides PAIRLINE_DRIVER)")
	return cmd
}
