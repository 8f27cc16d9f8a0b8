// Package pipeline implements the event dispatcher: the state machine
// that admits events into the durable queue, decides when to upload,
// selects batches under the negotiated byte budget, reconciles store and
// adaptive config from each upload outcome, and keeps exactly one send
// timer armed.
//
// Commands (Add, Send, DeleteAll) are processed one at a time in arrival
// order by a single worker, so the store and the adaptive config never
// see concurrent mutation. The upload call is the only blocking
// operation; it blocks the worker for its duration, which also means no
// two uploads are ever in flight at once. Delivery is at-least-once:
// a failed upload retains the batch, and the maxWait heartbeat retries
// it — no backoff, no retry cap.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/beacon/pkg/clock"
	"github.com/daviddao/beacon/pkg/model"
	"github.com/daviddao/beacon/pkg/store"
	"github.com/daviddao/beacon/pkg/upload"
)

// Action identifies a dispatcher command. Unrecognized actions are
// ignored.
type Action string

const (
	ActionAdd       Action = "ADD"
	ActionSend      Action = "SEND"
	ActionDeleteAll Action = "DELETE_ALL"
)

// Command is one unit of dispatcher work. Event is set only for ADD.
type Command struct {
	Action Action
	Event  *model.Event
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock. Tests use a fake.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clk = c }
}

// WithAlarmFactory replaces the send-timer constructor. The factory
// receives the fire callback (which enqueues a SEND command) and must
// return an alarm with replace-on-arm semantics.
func WithAlarmFactory(f func(fire func()) clock.Alarm) Option {
	return func(d *Dispatcher) { d.newAlarm = f }
}

// WithQueueSize sets the command channel buffer.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

// Dispatcher owns the event queue and the adaptive config. All of its
// mutable state is touched only from Handle, which must be driven either
// by Run or by a single goroutine.
type Dispatcher struct {
	store    store.Interface
	client   upload.Client
	clk      clock.Clock
	newAlarm func(fire func()) clock.Alarm
	log      zerolog.Logger

	queueSize int
	cmds      chan Command
	alarm     clock.Alarm

	// Scheduling state. limits and lastSend are the in-memory view of
	// the persisted adaptive config, loaded once at startup.
	limits    model.Limits
	lastSend  time.Time
	sendArmed bool
	nextSend  time.Time
}

// New builds a Dispatcher over a store and an upload client, loading the
// persisted adaptive config.
func New(st store.Interface, client upload.Client, log zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		store:     st,
		client:    client,
		clk:       clock.System(),
		newAlarm:  clock.NewAlarm,
		log:       log.With().Str("component", "pipeline").Logger(),
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(d)
	}

	limits, err := st.Limits()
	if err != nil {
		return nil, err
	}
	lastSend, err := st.LastSendTime()
	if err != nil {
		return nil, err
	}
	d.limits = limits
	d.lastSend = lastSend
	d.cmds = make(chan Command, d.queueSize)
	d.alarm = d.newAlarm(d.enqueueSend)
	return d, nil
}

// Enqueue submits a command for the worker loop. When the queue is full
// the command is dropped with a warning; a full queue means the worker
// is wedged on an upload, and a SEND heartbeat will fire again anyway.
func (d *Dispatcher) Enqueue(cmd Command) {
	select {
	case d.cmds <- cmd:
	default:
		d.log.Warn().Str("action", string(cmd.Action)).Msg("command queue full, dropping")
	}
}

// enqueueSend is the alarm's fire callback.
func (d *Dispatcher) enqueueSend() {
	d.Enqueue(Command{Action: ActionSend})
}

// Run consumes commands until ctx is canceled. This is the single worker
// that serializes all store and config mutation.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.alarm.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.cmds:
			d.Handle(ctx, cmd)
		}
	}
}

// Handle processes one command synchronously. Storage errors abort the
// current command only; the next command proceeds independently.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) {
	switch cmd.Action {
	case ActionAdd:
		d.handleAdd(cmd.Event)
	case ActionSend:
		d.handleSend(ctx)
	case ActionDeleteAll:
		d.handleDeleteAll()
	default:
		d.log.Debug().Str("action", string(cmd.Action)).Msg("ignoring unknown action")
	}
}

// handleAdd admits one event and schedules the next upload.
func (d *Dispatcher) handleAdd(e *model.Event) {
	if e == nil || e.Data == "" {
		d.log.Debug().Msg("dropping event with empty data")
		return
	}

	if err := d.store.InsertEvent(e); err != nil {
		d.log.Error().Err(err).Str("event_id", e.ID).Msg("insert event")
		return
	}
	evicted, err := d.store.TrimToSize(d.limits.MaxTotalSize)
	if err != nil {
		d.log.Error().Err(err).Msg("trim store")
		return
	}
	if evicted > 0 {
		d.log.Warn().Int("evicted", evicted).Msg("store over capacity, evicted oldest events")
	}

	d.scheduleSend(d.sendDelay(e))
}

// sendDelay computes how long to wait before the next upload after
// admitting e. Region events skip the interval throttle entirely; other
// events wait out whatever is left of the minimum batch interval,
// bounded above by maxWait.
func (d *Dispatcher) sendDelay(e *model.Event) time.Duration {
	if e.Type == model.EventTypeRegion {
		return 0
	}
	elapsed := d.clk.Now().Sub(d.lastSend)
	delay := millis(d.limits.MinBatchInterval) - elapsed
	if delay < 0 {
		return 0
	}
	if maxWait := millis(d.limits.MaxWait); delay > maxWait {
		return maxWait
	}
	return delay
}

// scheduleSend arms the send timer to fire after delay. Exactly one fire
// is outstanding at any time: an armed timer is replaced only when the
// new fire time is earlier, so repeated Adds can pull an upload forward
// but never push it back.
func (d *Dispatcher) scheduleSend(delay time.Duration) {
	desired := d.clk.Now().Add(delay)
	if d.sendArmed && !desired.Before(d.nextSend) {
		return
	}
	d.alarm.Arm(delay)
	d.sendArmed = true
	d.nextSend = desired
	d.log.Debug().Dur("delay", delay).Msg("send scheduled")
}

// handleSend selects a batch, uploads it, and reconciles state from the
// outcome. Receipt is confirmed by the presence of a response, not by
// its numeric status: any decoded response deletes the batch and applies
// the renegotiated limits. This mirrors the collector contract as
// deployed — do not tighten it to 2xx without a collector-side change.
func (d *Dispatcher) handleSend(ctx context.Context) {
	d.sendArmed = false

	batch, err := d.store.BatchEvents(d.limits.MaxBatchSize)
	if err != nil {
		d.log.Error().Err(err).Msg("select batch")
		return
	}
	if len(batch) == 0 {
		d.log.Debug().Msg("no events to upload")
		return
	}

	ids := make([]string, len(batch))
	bodies := make([]string, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
		bodies[i] = e.Data
	}

	resp, err := d.client.SendBatch(ctx, bodies)
	now := d.clk.Now()
	if err == nil && resp != nil {
		if err := d.store.DeleteEvents(ids); err != nil {
			// Deletion failure risks duplicate delivery; the collector
			// is idempotent on event ids, so log and move on.
			d.log.Error().Err(err).Msg("delete uploaded events")
		}
		d.limits = resp.Limits()
		if err := d.store.SaveLimits(d.limits); err != nil {
			d.log.Error().Err(err).Msg("persist limits")
		}
		d.lastSend = now
		if err := d.store.SetLastSendTime(now); err != nil {
			d.log.Error().Err(err).Msg("persist last send time")
		}
		d.log.Info().
			Int("events", len(batch)).
			Int("status", resp.Status).
			Msg("batch uploaded")
	} else {
		d.log.Warn().Err(err).Int("events", len(batch)).Msg("upload failed, batch retained")
	}

	// Heartbeat: win or lose, try again no later than maxWait from now.
	wait := millis(d.limits.MaxWait)
	d.alarm.Arm(wait)
	d.sendArmed = true
	d.nextSend = now.Add(wait)
}

// handleDeleteAll purges the queue. Adaptive config and any armed timer
// are untouched.
func (d *Dispatcher) handleDeleteAll() {
	if err := d.store.DeleteAllEvents(); err != nil {
		d.log.Error().Err(err).Msg("delete all events")
		return
	}
	d.log.Info().Msg("event queue purged")
}

// Limits returns the dispatcher's current view of the adaptive config.
// Only safe to call from the worker goroutine.
func (d *Dispatcher) Limits() model.Limits { return d.limits }

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
