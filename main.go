// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/formgate/cmd"
)

// main wires termination signals to the gateway's lifecycle: SIGINT/SIGTERM
// cancel the context, producing a clean drain-and-exit (code 0); any startup
// failure, including a failed login, exits with code 1.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
