// Package main runs an interactive relay client: each line typed on standard
// input is sent to the server until "quit".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/broadcast-relay/internal/client"
	"github.com/omochice/broadcast-relay/internal/config"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay client: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	if err := config.LoadDotEnv(); err != nil {
		return exitConfig, err
	}
	cfg, err := config.ParseClient(flag.CommandLine, args)
	if err != nil {
		return exitConfig, err
	}
	logger, err := config.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := client.New(client.Config{
		URL:         cfg.URL(),
		Username:    cfg.Username,
		DialTimeout: cfg.DialTimeout,
		Receive:     cfg.Receive,
	}, logger)

	err = session.Run(ctx, os.Stdin, os.Stdout)
	switch {
	case err == nil:
		return exitOK, nil
	case errors.Is(err, client.ErrConnectionClosed):
		fmt.Println("\nConnection closed.")
		return exitRuntime, nil
	default:
		fmt.Printf("\nAn error occurred: %v\n", err)
		return exitRuntime, nil
	}
}
