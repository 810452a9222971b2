package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/metalagman/accord/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve contracts and verification history over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app) error {
				server, err := web.NewServer(a.Contracts, a.History)
				if err != nil {
					return err
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           server.Routes(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					errCh <- srv.ListenAndServe()
				}()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", addr)
				log.Info().Str("addr", addr).Msg("http server started")

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")
	return cmd
}
