package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger := log.NewLogger()
	rootCmd := cli.NewRootCommand(logger, env.NewRepository())
	rootCmd.SetContext(ctx)

	code := cli.Execute(rootCmd, logger, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
