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

	"github.com/freekieb7/lockbox/internal/config"
	"github.com/freekieb7/lockbox/internal/container"
)

var version = "dev"

func main() {
	ctx := context.Background()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return errors.Join(errors.New("load config failed"), err)
	}

	logger := container.NewLogger(cfg.Server)

	c, err := container.New(ctx, cfg, logger, version)
	if err != nil {
		return errors.Join(errors.New("build container failed"), err)
	}
	defer c.Close()

	c.StartBackground()

	server := c.HttpServer

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("Listening and serving", "addr", server.Addr, "environment", cfg.Server.Environment, "version", version)
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return err
		}

		logger.Info("Shutdown completed")
	}

	return nil
}
