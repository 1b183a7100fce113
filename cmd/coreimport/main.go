// Command coreimport runs Core Data and analytics imports from the shell,
// against the same database as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/erpimport/internal/core"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitNotApplied  = 2
	exitBadDocument = 3
)

func main() {
	// A missing .env is fine; the environment may already be configured.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
	}
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNotConfirmed):
		return exitNotApplied
	case errors.Is(err, core.ErrInvalidFormat), errors.Is(err, core.ErrSchemaMismatch):
		return exitBadDocument
	default:
		return exitFailure
	}
}

// describe prefers the catalogue message for known import errors.
func describe(err error) string {
	if core.IsUserFacing(err) {
		return core.FormatUserError(err) + "\n  " + err.Error()
	}
	return err.Error()
}
