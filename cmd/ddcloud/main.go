package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chiquitav2/ddcloud/cmd/ddcloud/cmd"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	cmd.SetVersion(version)
	code := cmd.Execute(ctx)

	stop()
	os.Exit(code)
}
