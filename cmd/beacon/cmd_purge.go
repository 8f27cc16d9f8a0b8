package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/beacon/pkg/pipeline"
)

func (a *app) cmdPurge(args []string) int {
	flags := flag.NewFlagSet("purge", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	before, err := a.store.EventCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: purge: %v\n", err)
		return 1
	}

	d, err := a.offlineDispatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: purge: %v\n", err)
		return 1
	}
	d.Handle(context.Background(), pipeline.Command{Action: pipeline.ActionDeleteAll})

	if *jsonOut {
		printJSON(map[string]interface{}{"purged": before})
	} else {
		fmt.Printf("purged %d events\n", before)
	}
	return 0
}
