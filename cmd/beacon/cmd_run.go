package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daviddao/beacon/pkg/pipeline"
)

// cmdRun starts the pipeline worker: the single goroutine that processes
// queued commands and keeps the send heartbeat armed. It seeds one SEND
// at startup so events queued while the worker was down are not stuck
// waiting for the next Add.
func (a *app) cmdRun(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if err := a.cfg.ValidateCollector(); err != nil {
		fmt.Fprintf(os.Stderr, "beacon: %v\n", err)
		return 1
	}

	d, err := a.newDispatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: run: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a.log.Info().Str("db", a.cfg.DBPath).Str("collector", a.cfg.CollectorURL).Msg("pipeline worker starting")
	d.Enqueue(pipeline.Command{Action: pipeline.ActionSend})
	d.Run(ctx)
	a.log.Info().Msg("pipeline worker stopped")
	return 0
}
