package main

import (
	"github.com/jaywantadh/ThreadByte/internal/api"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API used by the web frontend: uploads, downloads,
progress streams (server-sent events), the file index and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := createContext()
		defer cancel()

		svc, err := createServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		srv := api.NewServer(logging.Log, cfg.ListenAddr, svc.core, svc.metrics.Handler())
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			logging.Log.Info("🛑 Shutting down API server")
			if err := srv.Shutdown(); err != nil {
				return err
			}
			return <-errCh
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "address to listen on (overrides listen_addr)")
	viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))
}
