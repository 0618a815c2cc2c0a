// Command flexalert runs the flexible-rule alarm engine: it loads Lua
// rules from disk, tracks assets and metrics off the bus, evaluates
// rules on each periodic tick, and serves the rule-management
// mailbox over HTTP. Grounded on the teacher's cmd/processor/main.go:
// build config, construct the app, run it in the background, wait on
// an OS signal or the app's own early exit, then give shutdown a grace
// period before exiting.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flexalert/internal/app"
	"flexalert/internal/config"
	"flexalert/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if err == config.ErrHelpRequested {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "flexalert:", err)
		os.Exit(1)
	}

	logger.Init(cfg.Verbose)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("flexalert: failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := a.Run(ctx); err != nil {
			log.Printf("flexalert: exited with error: %v", err)
			cancel()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Println("shutting down")
		cancel()
	case <-ctx.Done():
	}

	time.Sleep(500 * time.Millisecond)
	log.Println("exited")
}
