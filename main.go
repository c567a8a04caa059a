package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ekaya-inc/golden-engine/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/golden-engine/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/golden-engine/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/golden-engine/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, Version, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
