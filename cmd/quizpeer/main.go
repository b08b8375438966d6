package main

import (
	"log/slog"
	"os"

	"github.com/mcoot/basequiz/internal/cli"
)

func main() {
	// Logs go to stderr as JSON so stdout stays parseable with --output json
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	os.Exit(cli.Execute(logger))
}
