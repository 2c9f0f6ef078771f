package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/taskcore/cmd/taskctl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := commands.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
