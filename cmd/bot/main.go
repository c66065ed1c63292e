package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pillbot/internal/core"
	"pillbot/pkg/sdnotify"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the configuration file (yaml or json)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "pillbot:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	app, err := core.New(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sdnotify.Ready()
	defer sdnotify.Stopping()

	return app.Run(ctx)
}
