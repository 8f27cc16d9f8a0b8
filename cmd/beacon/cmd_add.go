package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/beacon/pkg/model"
	"github.com/daviddao/beacon/pkg/pipeline"
)

func (a *app) cmdAdd(args []string) int {
	flags := flag.NewFlagSet("add", flag.ContinueOnError)
	session := flags.String("session", "", "session id (default: BEACON_SESSION or random)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: beacon add <type> [payload] [--session ID] [--json]")
		return 1
	}

	now := time.Now()
	data := ""
	if flags.NArg() >= 2 {
		data = flags.Arg(1)
	} else {
		var err error
		data, err = model.EncodePayload(map[string]any{"occurred": model.MillisString(now)})
		if err != nil {
			fmt.Fprintf(os.Stderr, "beacon: add: %v\n", err)
			return 1
		}
	}

	sess := *session
	if sess == "" {
		sess = sessionID()
	}
	e := &model.Event{
		Type:      flags.Arg(0),
		ID:        uuid.NewString(),
		Data:      data,
		SessionID: sess,
		Timestamp: model.MillisString(now),
	}

	d, err := a.offlineDispatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: add: %v\n", err)
		return 1
	}
	d.Handle(context.Background(), pipeline.Command{Action: pipeline.ActionAdd, Event: e})

	if *jsonOut {
		printJSON(e)
	} else {
		fmt.Printf("queued %s event %s\n", e.Type, e.ID)
	}
	return 0
}
