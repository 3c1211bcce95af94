// Package main starts the broadcast relay server and runs it until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/omochice/broadcast-relay/internal/chat"
	"github.com/omochice/broadcast-relay/internal/config"
	"github.com/omochice/broadcast-relay/internal/transport/tcp"
	"github.com/omochice/broadcast-relay/internal/transport/ws"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// server is implemented by every transport listener.
type server interface {
	Listen() error
	Serve() error
	Stop()
}

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay server: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	if err := config.LoadDotEnv(); err != nil {
		return exitConfig, err
	}
	cfg, err := config.ParseServer(flag.CommandLine, args)
	if err != nil {
		return exitConfig, err
	}
	logger, err := config.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := chat.NewHub()
	servers := []server{ws.New(cfg.Address(), hub, logger, ws.Options{
		SendQueueSize: cfg.SendQueueSize,
		WriteTimeout:  cfg.WriteTimeout,
	})}
	if cfg.TCPAddr != "" {
		servers = append(servers, tcp.New(cfg.TCPAddr, hub, logger, cfg.SendQueueSize, cfg.WriteTimeout))
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		if err := srv.Listen(); err != nil {
			stopAll(servers)
			return exitRuntime, err
		}
		g.Go(func() error {
			defer stop()
			return srv.Serve()
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		stopAll(servers)
		return nil
	})
	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}

	logger.Info("server stopped")
	return exitOK, nil
}

func stopAll(servers []server) {
	for _, srv := range servers {
		srv.Stop()
	}
}
