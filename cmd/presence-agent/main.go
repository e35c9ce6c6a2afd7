package main

import (
	"context"
	"os"

	"presence-agent/internal/config"
)

func main() {
	config.LoadDotEnv()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
