// Command server runs the quest narrative resolution service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/questline/internal/cmd/server"
	platformcmd "github.com/louisbranch/questline/internal/platform/cmd"
	"github.com/louisbranch/questline/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := flag.NewFlagSet(platformcmd.ServiceNarrative, flag.ExitOnError)
	cfg, err := server.ParseConfig(fs, os.Args[1:])
	if err != nil {
		config.Exitf("parse config: %v", err)
	}

	if err := platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceNarrative, func(ctx context.Context) error {
		return server.Run(ctx, cfg)
	}); err != nil {
		config.Exitf("run narrative server: %v", err)
	}
}
