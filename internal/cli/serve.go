package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/opencode-ai/clawdash/internal/dashd"
	"github.com/opencode-ai/clawdash/internal/logging"
	"github.com/spf13/cobra"
)

var (
	serveHost     string
	servePort     int
	serveGRPCPort int
	serveNoImport bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides server.port)")
	serveCmd.Flags().IntVar(&serveGRPCPort, "grpc-port", 0, "gRPC health port (overrides server.grpc_port)")
	serveCmd.Flags().BoolVar(&serveNoImport, "no-import", false, "skip the startup usage backfill")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server",
	Long:  "Serve the live transcript stream, sessions listing and usage report over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveGRPCPort != 0 {
			cfg.Server.GRPCPort = serveGRPCPort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		daemon, err := dashd.New(cfg, logging.Component("dashd"), dashd.Options{
			Version:    Version,
			SkipImport: serveNoImport,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return daemon.Run(ctx)
	},
}
