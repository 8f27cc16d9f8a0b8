package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/beacon/pkg/pipeline"
)

func (a *app) cmdSend(args []string) int {
	flags := flag.NewFlagSet("send", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if err := a.cfg.ValidateCollector(); err != nil {
		fmt.Fprintf(os.Stderr, "beacon: %v\n", err)
		return 1
	}

	before, err := a.store.EventCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: send: %v\n", err)
		return 1
	}

	d, err := a.newDispatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: send: %v\n", err)
		return 1
	}
	d.Handle(context.Background(), pipeline.Command{Action: pipeline.ActionSend})

	after, err := a.store.EventCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: send: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"uploaded": before - after, "pending": after,
		})
	} else {
		fmt.Printf("uploaded %d events, %d pending\n", before-after, after)
	}
	return 0
}
