// cmd/serve.go - Serve command implementation
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tilecraft/tilecraft/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve vector tiles over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, err := loadService()
		if err != nil {
			return err
		}
		defer svc.Close()
		if err := svc.Connect(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := server.New(svc, server.Config{
			Bind:            cfg.Webserver.Bind,
			Port:            cfg.Webserver.Port,
			CacheControlAge: cfg.Webserver.CacheControlAge,
			Viewer:          cfg.Service.MVT.Viewer,
		})
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
