package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/beacon/pkg/clock"
	"github.com/daviddao/beacon/pkg/model"
	"github.com/daviddao/beacon/pkg/store"
)

// fakeClient records batches and replies with a canned outcome.
type fakeClient struct {
	mu    sync.Mutex
	resp  *model.UploadResponse
	err   error
	calls [][]string
	sent  chan struct{}
}

func (c *fakeClient) SendBatch(_ context.Context, bodies []string) (*model.UploadResponse, error) {
	c.mu.Lock()
	batch := make([]string, len(bodies))
	copy(batch, bodies)
	c.calls = append(c.calls, batch)
	c.mu.Unlock()
	if c.sent != nil {
		c.sent <- struct{}{}
	}
	return c.resp, c.err
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) call(i int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

// okResponse is the collector answer used by the happy-path tests.
func okResponse() *model.UploadResponse {
	return &model.UploadResponse{
		Status:           200,
		MaxTotalSize:     200,
		MaxBatchSize:     300,
		MaxWait:          400,
		MinBatchInterval: 100,
	}
}

type fixture struct {
	d      *Dispatcher
	store  *store.Store
	client *fakeClient
	clk    *clock.Fake
	alarm  *clock.FakeAlarm
}

// newFixture wires a dispatcher over a real store, a fake collector, a
// fake clock, and a recording alarm. prep runs against the store before
// the dispatcher loads its config.
func newFixture(t *testing.T, client *fakeClient, prep func(s *store.Store)) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if prep != nil {
		prep(s)
	}

	f := &fixture{store: s, client: client}
	f.clk = clock.NewFake(time.UnixMilli(1_700_000_000_000))
	d, err := New(s, client, zerolog.Nop(),
		WithClock(f.clk),
		WithAlarmFactory(func(fire func()) clock.Alarm {
			f.alarm = clock.NewFakeAlarm(fire)
			return f.alarm
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.d = d
	return f
}

func (f *fixture) add(t *testing.T, e *model.Event) {
	t.Helper()
	f.d.Handle(context.Background(), Command{Action: ActionAdd, Event: e})
}

func (f *fixture) send(t *testing.T) {
	t.Helper()
	f.d.Handle(context.Background(), Command{Action: ActionSend})
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.EventCount()
	if err != nil {
		t.Fatalf("EventCount: %v", err)
	}
	return n
}

func event(id, typ, data string) *model.Event {
	return &model.Event{
		Type:      typ,
		ID:        id,
		Data:      data,
		SessionID: "session",
		Timestamp: "100",
	}
}

// --- Add ---

func TestAddQueuesEventAndSchedulesSend(t *testing.T) {
	f := newFixture(t, &fakeClient{}, nil)

	f.add(t, event("e1", "app_open", `{"foo":1}`))

	if got := f.count(t); got != 1 {
		t.Fatalf("got %d queued events, want 1", got)
	}
	if f.client.callCount() != 0 {
		t.Fatal("Add must not upload by itself")
	}
	if !f.alarm.Armed() {
		t.Fatal("Add should arm the send timer")
	}
}

func TestAddEmptyDataIsSilentNoOp(t *testing.T) {
	f := newFixture(t, &fakeClient{}, nil)

	f.add(t, event("e1", "app_open", ""))

	if got := f.count(t); got != 0 {
		t.Fatalf("empty-data event was queued: got %d events, want 0", got)
	}
	if f.alarm.Armed() || len(f.alarm.Delays()) != 0 {
		t.Fatal("empty-data Add must not touch the send timer")
	}
}

func TestAddWaitsOutMinBatchInterval(t *testing.T) {
	f := newFixture(t, &fakeClient{}, func(s *store.Store) {
		// A send just happened, so a fresh Add must wait the full interval.
		s.SetLastSendTime(time.UnixMilli(1_700_000_000_000))
	})

	f.add(t, event("e1", "app_open", "data"))

	want := time.Duration(model.DefaultMinBatchInterval) * time.Millisecond
	if got := f.alarm.LastDelay(); got != want {
		t.Fatalf("send delay = %v, want %v", got, want)
	}
}

func TestAddAfterQuietPeriodSchedulesImmediately(t *testing.T) {
	f := newFixture(t, &fakeClient{}, func(s *store.Store) {
		s.SetLastSendTime(time.UnixMilli(1_700_000_000_000).Add(-time.Hour))
	})

	f.add(t, event("e1", "app_open", "data"))

	if got := f.alarm.LastDelay(); got != 0 {
		t.Fatalf("send delay = %v, want 0 (interval already elapsed)", got)
	}
}

func TestAddRegionEventBypassesInterval(t *testing.T) {
	f := newFixture(t, &fakeClient{}, func(s *store.Store) {
		// Last send is "now": ordinary events would wait the interval.
		s.SetLastSendTime(time.UnixMilli(1_700_000_000_000))
	})

	f.add(t, event("r1", model.EventTypeRegion, "region data"))

	if got := f.alarm.LastDelay(); got != 0 {
		t.Fatalf("region event send delay = %v, want 0", got)
	}
}

func TestAddOnlyMovesTimerEarlier(t *testing.T) {
	f := newFixture(t, &fakeClient{}, func(s *store.Store) {
		s.SetLastSendTime(time.UnixMilli(1_700_000_000_000))
	})

	f.add(t, event("e1", "app_open", "data")) // arms at +interval
	f.add(t, event("r1", model.EventTypeRegion, "data")) // pulls to now
	arms := len(f.alarm.Delays())
	if arms != 2 {
		t.Fatalf("got %d arms, want 2 (second Add pulls the timer earlier)", arms)
	}

	// A later-firing Add must not push the armed timer back.
	f.add(t, event("e2", "app_open", "data"))
	if got := len(f.alarm.Delays()); got != arms {
		t.Fatalf("slower Add re-armed the timer: %d arms, want %d", got, arms)
	}
}

func TestAddEvictsWhenOverCap(t *testing.T) {
	small := model.Limits{
		MaxTotalSize:     60,
		MaxBatchSize:     300,
		MaxWait:          400,
		MinBatchInterval: 100,
	}
	f := newFixture(t, &fakeClient{}, func(s *store.Store) {
		s.SaveLimits(small)
	})

	e1 := event("e1", "t", "aaaaaaaaaaaaaaaaaaaa")
	e2 := event("e2", "t", "bbbbbbbbbbbbbbbbbbbb")
	f.add(t, e1)
	f.add(t, e2)

	size, err := f.store.DatabaseSize()
	if err != nil {
		t.Fatal(err)
	}
	if size > small.MaxTotalSize {
		t.Fatalf("store size %d exceeds cap %d after Add", size, small.MaxTotalSize)
	}
	batch, _ := f.store.BatchEvents(1 << 20)
	if len(batch) != 1 || batch[0].ID != "e2" {
		t.Fatalf("eviction should drop the oldest event, got %v", batch)
	}
}

// --- Send ---

func TestSendUploadsBatchAndAppliesResponse(t *testing.T) {
	f := newFixture(t, &fakeClient{resp: okResponse()}, nil)
	f.add(t, event("e1", "t", "first body"))
	f.add(t, event("e2", "t", "second body"))

	f.send(t)

	if got := f.client.callCount(); got != 1 {
		t.Fatalf("got %d upload calls, want 1", got)
	}
	bodies := f.client.call(0)
	if len(bodies) != 2 || bodies[0] != "first body" || bodies[1] != "second body" {
		t.Fatalf("uploaded bodies = %v, want both datas oldest-first", bodies)
	}
	if got := f.count(t); got != 0 {
		t.Fatalf("%d events left after confirmed upload, want 0", got)
	}

	wantLimits := model.Limits{MaxTotalSize: 200, MaxBatchSize: 300, MaxWait: 400, MinBatchInterval: 100}
	got, err := f.store.Limits()
	if err != nil {
		t.Fatal(err)
	}
	if got != wantLimits {
		t.Fatalf("persisted limits = %+v, want %+v", got, wantLimits)
	}

	lastSend, err := f.store.LastSendTime()
	if err != nil {
		t.Fatal(err)
	}
	if !lastSend.Equal(f.clk.Now()) {
		t.Fatalf("last send time = %v, want %v", lastSend, f.clk.Now())
	}

	// The next heartbeat uses the renegotiated maxWait.
	if got := f.alarm.LastDelay(); got != 400*time.Millisecond {
		t.Fatalf("next send armed %v out, want 400ms", got)
	}
}

func TestSendFailureRetainsBatchAndConfig(t *testing.T) {
	f := newFixture(t, &fakeClient{err: context.DeadlineExceeded}, nil)
	f.add(t, event("e1", "t", "body"))

	f.send(t)

	if got := f.client.callCount(); got != 1 {
		t.Fatalf("got %d upload calls, want 1", got)
	}
	if got := f.count(t); got != 1 {
		t.Fatalf("failed upload deleted events: %d left, want 1", got)
	}
	limits, err := f.store.Limits()
	if err != nil {
		t.Fatal(err)
	}
	if limits != model.DefaultLimits() {
		t.Fatalf("failed upload changed limits: %+v", limits)
	}
	lastSend, _ := f.store.LastSendTime()
	if !lastSend.IsZero() {
		t.Fatalf("failed upload advanced last send time to %v", lastSend)
	}

	// Forward progress: the retry heartbeat is armed at maxWait.
	want := time.Duration(model.DefaultMaxWait) * time.Millisecond
	if got := f.alarm.LastDelay(); got != want {
		t.Fatalf("retry heartbeat armed %v out, want %v", got, want)
	}
}

func TestSendEmptyStoreIsSilentNoOp(t *testing.T) {
	f := newFixture(t, &fakeClient{resp: okResponse()}, nil)

	f.send(t)

	if f.client.callCount() != 0 {
		t.Fatal("empty send must not make a network call")
	}
	if f.alarm.Armed() {
		t.Fatal("empty send must not arm a new timer")
	}
}

func TestSendIsIdempotentAfterDrain(t *testing.T) {
	f := newFixture(t, &fakeClient{resp: okResponse()}, nil)
	f.add(t, event("e1", "t", "body"))

	f.send(t)
	f.send(t)

	if got := f.client.callCount(); got != 1 {
		t.Fatalf("re-running Send on a drained store made %d calls, want 1", got)
	}
}

func TestSendSelectsPrefixUnderBatchBudget(t *testing.T) {
	e1 := event("e1", "t", "aaaaaaaaaa")
	e2 := event("e2", "t", "bbbbbbbbbb")
	budget := model.Limits{
		MaxTotalSize:     1 << 20,
		MaxBatchSize:     e1.Size(),
		MaxWait:          400,
		MinBatchInterval: 100,
	}
	f := newFixture(t, &fakeClient{resp: okResponse()}, func(s *store.Store) {
		s.SaveLimits(budget)
	})
	f.add(t, e1)
	f.add(t, e2)

	f.send(t)

	bodies := f.client.call(0)
	if len(bodies) != 1 || bodies[0] != e1.Data {
		t.Fatalf("uploaded bodies = %v, want only the oldest event", bodies)
	}
	batch, _ := f.store.BatchEvents(1 << 20)
	if len(batch) != 1 || batch[0].ID != "e2" {
		t.Fatalf("only the sent event should be deleted, got %v", batch)
	}
}

func TestSendOversizedEventStillShips(t *testing.T) {
	// One event of total size > maxBatchSize: the batch still carries it.
	e := event("e1", "t", "payload well over the hundred byte budget for this test case, padded to be quite long indeed")
	if e.Size() <= 100 {
		t.Fatalf("test event size %d, want > 100", e.Size())
	}
	budget := model.Limits{MaxTotalSize: 1 << 20, MaxBatchSize: 100, MaxWait: 400, MinBatchInterval: 100}
	f := newFixture(t, &fakeClient{resp: okResponse()}, func(s *store.Store) {
		s.SaveLimits(budget)
	})
	f.add(t, e)

	f.send(t)

	if got := f.client.callCount(); got != 1 {
		t.Fatalf("got %d upload calls, want 1 (never zero events while queue is non-empty)", got)
	}
	if bodies := f.client.call(0); len(bodies) != 1 {
		t.Fatalf("uploaded %d bodies, want 1", len(bodies))
	}
}

func TestSendDeletesOnNonOKStatus(t *testing.T) {
	// Receipt is keyed off the presence of a response, not its status.
	resp := okResponse()
	resp.Status = 500
	f := newFixture(t, &fakeClient{resp: resp}, nil)
	f.add(t, event("e1", "t", "body"))

	f.send(t)

	if got := f.count(t); got != 0 {
		t.Fatalf("non-2xx response retained %d events, want 0 (any response confirms receipt)", got)
	}
}

// --- DeleteAll ---

func TestDeleteAllPurgesQueueOnly(t *testing.T) {
	saved := model.Limits{MaxTotalSize: 1000, MaxBatchSize: 2, MaxWait: 3, MinBatchInterval: 4}
	f := newFixture(t, &fakeClient{}, func(s *store.Store) {
		s.SaveLimits(saved)
	})
	f.d.Handle(context.Background(), Command{Action: ActionAdd, Event: event("e1", "t", "a")})
	armedBefore := f.alarm.Armed()

	f.d.Handle(context.Background(), Command{Action: ActionDeleteAll})

	if got := f.count(t); got != 0 {
		t.Fatalf("got %d events after DeleteAll, want 0", got)
	}
	limits, _ := f.store.Limits()
	if limits != saved {
		t.Fatalf("DeleteAll changed limits: %+v", limits)
	}
	if f.alarm.Armed() != armedBefore {
		t.Fatal("DeleteAll touched the send timer")
	}
}

func TestDeleteAllOnEmptyQueue(t *testing.T) {
	f := newFixture(t, &fakeClient{}, nil)
	f.d.Handle(context.Background(), Command{Action: ActionDeleteAll})
	if got := f.count(t); got != 0 {
		t.Fatalf("got %d events, want 0", got)
	}
}

// --- Command intake ---

func TestUnknownActionIgnored(t *testing.T) {
	f := newFixture(t, &fakeClient{}, nil)
	f.d.Handle(context.Background(), Command{Action: "REWIND"})

	if f.client.callCount() != 0 || f.alarm.Armed() {
		t.Fatal("unknown action must be a no-op")
	}
}

// --- Worker loop ---

func TestRunProcessesTimerFire(t *testing.T) {
	client := &fakeClient{resp: okResponse(), sent: make(chan struct{}, 1)}
	f := newFixture(t, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx)
		close(done)
	}()

	f.d.Enqueue(Command{Action: ActionAdd, Event: event("e1", "t", "body")})

	// Wait for the worker to admit the event and arm the timer.
	deadline := time.After(2 * time.Second)
	for !f.alarm.Armed() {
		select {
		case <-deadline:
			t.Fatal("worker never armed the send timer")
		case <-time.After(time.Millisecond):
		}
	}

	// The timer fires: the worker must pick up the SEND and upload.
	f.alarm.Fire()
	select {
	case <-client.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timer fire never reached the upload client")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
