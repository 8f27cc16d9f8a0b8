package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	count, err := a.store.EventCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: status: %v\n", err)
		return 1
	}
	size, err := a.store.DatabaseSize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: status: %v\n", err)
		return 1
	}
	limits, err := a.store.Limits()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: status: %v\n", err)
		return 1
	}
	lastSend, err := a.store.LastSendTime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: status: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"pending_events": count,
			"store_bytes":    size,
			"limits":         limits,
			"last_send":      lastSend,
		})
		return 0
	}

	fmt.Printf("pending events:     %d\n", count)
	fmt.Printf("store size:         %d bytes (cap %d)\n", size, limits.MaxTotalSize)
	fmt.Printf("max batch size:     %d bytes\n", limits.MaxBatchSize)
	fmt.Printf("max wait:           %dms\n", limits.MaxWait)
	fmt.Printf("min batch interval: %dms\n", limits.MinBatchInterval)
	if lastSend.IsZero() {
		fmt.Printf("last send:          never\n")
	} else {
		fmt.Printf("last send:          %s (%s ago)\n",
			lastSend.Format(time.RFC3339), time.Since(lastSend).Round(time.Second))
	}
	return 0
}
