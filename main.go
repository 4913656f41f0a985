//go:generate go run ./internal/cmd/generate

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/cmd/migrate"
	"github.com/chirino/keyvalue-service/internal/cmd/serve"
	"github.com/chirino/keyvalue-service/internal/cmd/useradd"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "keyvalue-service",
		Usage: "Key-value, prompt and conversation storage service for LLM chat front ends",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			useradd.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
