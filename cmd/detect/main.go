package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(ctx, afero.NewOsFs(), newTesseractDetector)
	if err := cmd.Execute(); err != nil {
		stop()
		os.Exit(1)
	}
}
