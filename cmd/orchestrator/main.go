package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

// run executes the CLI and returns the process exit code. Deferred cleanup
// finishes before main exits.
func run() int {
	// Provider credentials for the agent CLIs may live in the project's
	// .researchflow/.env; variables already set in the environment win.
	if err := godotenv.Load(filepath.Join(".researchflow", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARNING: failed to load .researchflow/.env: %v", err)
	}

	// Cancelled on Ctrl+C or SIGTERM; commands shut the queue down and
	// kill agent subprocesses when it fires.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
