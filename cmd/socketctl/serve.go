package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/debug"
	"github.com/kleeedolinux/socketlink/socket"
)

var (
	serveAddr     string
	serveMaxConns int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :3001)")
	serveCmd.Flags().IntVar(&serveMaxConns, "max-connections", 0, "maximum concurrent connections (default 100)")
}

// newRouter mounts the relay on a gin engine.
func newRouter(relay *socket.Server) *gin.Engine {
	if !debug.Enabled() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/socket", gin.WrapF(relay.HandleHTTP))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": relay.Count(),
			"rooms":       relay.Rooms().Rooms(),
		})
	})

	return r
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat relay server",
	Long:  "Serve the chat room relay over WebSocket at /socket, with a health check at /healthz.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		addr := valueOrDefault(serveAddr, valueOrDefault(cfg.Server.Addr, ":3001"))
		maxConns := serveMaxConns
		if maxConns == 0 {
			maxConns = cfg.Server.MaxConnections
		}

		opts := []socket.ServerOption{socket.WithServerLogger(logger)}
		if maxConns > 0 {
			opts = append(opts, socket.WithMaxConcurrency(maxConns))
		}
		relay := socket.NewRelay(opts...)

		srv := &http.Server{
			Addr:    addr,
			Handler: newRouter(relay),
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("relay listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("relay server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by http.Server.
		if err := relay.Shutdown(shutdownCtx); err != nil {
			logger.Warn("relay shutdown incomplete", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
