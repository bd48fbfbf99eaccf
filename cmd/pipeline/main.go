// cmd/pipeline/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := newBackend()
	cmd := newRootCmd(b)
	err := cmd.ExecuteContext(ctx)
	if cerr := b.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "close: %v\n", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
