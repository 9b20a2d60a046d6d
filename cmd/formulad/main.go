package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, errRequestFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	stop()
	os.Exit(1)
}
