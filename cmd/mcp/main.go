// Command mcp exposes the narrative engine over the model context
// protocol on stdio.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/questline/internal/cmd/mcp"
	platformcmd "github.com/louisbranch/questline/internal/platform/cmd"
	"github.com/louisbranch/questline/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := flag.NewFlagSet(platformcmd.ServiceMCP, flag.ExitOnError)
	cfg, err := mcp.ParseConfig(fs, os.Args[1:])
	if err != nil {
		config.Exitf("parse config: %v", err)
	}

	if err := platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceMCP, func(ctx context.Context) error {
		return mcp.Run(ctx, cfg)
	}); err != nil {
		config.Exitf("run mcp server: %v", err)
	}
}
