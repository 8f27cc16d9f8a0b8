// Command beacon is the device-side analytics pipeline CLI — durable
// event queueing, adaptive batching, and collector upload.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("beacon", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	case "run":
		os.Exit(a.cmdRun(os.Args[2:]))
	case "add":
		os.Exit(a.cmdAdd(os.Args[2:]))
	case "send":
		os.Exit(a.cmdSend(os.Args[2:]))
	case "purge":
		os.Exit(a.cmdPurge(os.Args[2:]))
	case "status":
		os.Exit(a.cmdStatus(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "beacon: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'beacon --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`beacon — device-side analytics event pipeline

Events are queued in local SQLite, batched under collector-negotiated
byte budgets, and uploaded on an adaptive schedule. Failed uploads are
retained and retried on the maxWait heartbeat.

Usage:
  beacon <command> [flags]

Commands:
  run                       Run the pipeline worker until SIGTERM
  add <type> [payload]      Queue an event (payload = serialized JSON body)
  send                      Force an upload attempt now
  purge                     Drop all queued events
  status                    Show queue depth, store size, current limits

Environment:
  BEACON_DB                 SQLite database path (default: ~/.beacon/beacon.db)
  BEACON_COLLECTOR_URL      Batch upload endpoint (required for run/send)
  BEACON_APP_KEY            Collector app key
  BEACON_APP_SECRET         Collector app secret
  BEACON_SESSION            Session id for queued events (default: random)
  BEACON_LOG_LEVEL          Log level (default: info)
  BEACON_LOG_PRETTY         "true" for console log output

All commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "beacon: "+format+"\n", args...)
	os.Exit(1)
}
