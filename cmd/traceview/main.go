package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/tobert/traceview/internal/cli"
)

var version = "0.1.0-dev"

func main() {
	// A .env in the working directory can carry TRACEVIEW_* settings; it is
	// optional and never overrides the real environment.
	_ = godotenv.Load()

	os.Exit(cli.Run(context.Background(), version, os.Args))
}
