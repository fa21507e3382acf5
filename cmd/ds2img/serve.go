package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jgarman/ds2img/internal/mdns"
	"github.com/jgarman/ds2img/internal/webui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP build service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		handler, err := webui.New(cfg, outputPath)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      handler.Router(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: cfg.HTTPWriteTimeout(),
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logrus.WithField("addr", srv.Addr).Info("Starting server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- err
			}
			close(serveErr)
		}()

		if urls, err := mdns.LocalURLs(cfg.Server.Port); err == nil {
			for _, u := range urls {
				logrus.WithField("url", u).Info("Build service reachable")
			}
		}

		if cfg.Server.Announce {
			announcer, err := mdns.Announce(mdns.HTTPService(cfg.Server.ServiceName, cfg.Server.Port,
				"path=/", fmt.Sprintf("partitions=%d", len(cfg.Partitions))))
			if err != nil {
				logrus.WithError(err).Warn("mDNS announcement failed")
			} else {
				defer announcer.Stop()
			}
		}

		// Wait for interrupt signal to gracefully shutdown the server
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-quit:
		}

		logrus.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("Server forced to shutdown")
		}

		logrus.Info("Server exited")
		return nil
	},
}
