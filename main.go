// pgdial - PostgreSQL connection establishment with host fallback, TLS
// negotiation and SSH tunnelling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pgdial/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pgdial: %v\n", err)
		os.Exit(1)
	}
}
