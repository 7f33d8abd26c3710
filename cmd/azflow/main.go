// azflow runs batch and blob connector lifecycles from deployment files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"azflow/internal/cli"
	"azflow/internal/executor/docker"
	"azflow/internal/plugin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := plugin.Default(plugin.DefaultOptions{Docker: docker.LoadConfigFromEnv()})
	if err := cli.NewRootCmd(registry).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
