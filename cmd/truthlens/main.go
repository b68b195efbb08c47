package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"truthlens/internal/services"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "truthlens:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process status: 0 on success, 2 when the
// configuration or input is unusable, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrValidation):
		return 2
	default:
		return 1
	}
}
