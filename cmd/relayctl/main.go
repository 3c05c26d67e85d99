package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"inreach-relay/internal/deploy"
)

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := ""
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	cli := deploy.CLI{
		Tool:       os.Getenv("DEPLOY_TOOL"),
		ProjectDir: os.Getenv("PROJECT_DIR"),
		Function:   envOr("FUNCTION_NAME", "relay/forward"),
		Run:        deploy.ExecRunner(os.Stdout, os.Stderr),
		Out:        os.Stderr,
	}
	if err := cli.Execute(ctx, command); err != nil {
		if !errors.Is(err, deploy.ErrUsage) {
			logger.Error().Err(err).Str("command", command).Msg("command failed")
		}
		stop()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
