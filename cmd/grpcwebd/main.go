// Command grpcwebd hosts a gRPC-Web server exposing the echo demo
// service. It exists to give grpcwebserver.Server a runnable entry point,
// the way keploy and wudi-gateway expose their own engines through a
// Cobra-based CLI rather than a bare flag.Parse main.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grpcwebgo/grpcweb/grpcwebserver"
	"github.com/grpcwebgo/grpcweb/internal/echo"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr        string
		development bool
	)

	cmd := &cobra.Command{
		Use:   "grpcwebd",
		Short: "Serve gRPC-Web calls against the echo demo service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(development)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			srv := grpcwebserver.NewServer(logger)
			srv.RegisterService(echo.NewService())

			return serve(cmd.Context(), addr, srv, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().BoolVar(&development, "development", false, "use zap's human-readable development logger")

	return cmd
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}
