package funnel

import (
	"context"
	"sync"
	"time"

	"advisor/schemas"
	"advisor/video"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs the timers that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeEngine struct {
	mu      sync.Mutex
	ready   bool
	players map[video.Slot]*fakePlayer
}

type fakePlayer struct {
	mu       sync.Mutex
	loaded   []string
	stops    int
	listener video.Listener
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{ready: true, players: make(map[video.Slot]*fakePlayer)}
}

func (e *fakeEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *fakeEngine) NewPlayer(slot video.Slot, videoID string, listener video.Listener) (video.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &fakePlayer{loaded: []string{videoID}, listener: listener}
	e.players[slot] = p
	return p, nil
}

func (e *fakeEngine) player(slot video.Slot) *fakePlayer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.players[slot]
}

// emit plays the role of the engine's event goroutine.
func (e *fakeEngine) emit(slot video.Slot, ev video.Event) {
	if p := e.player(slot); p != nil {
		p.listener(ev)
	}
}

func (p *fakePlayer) Load(videoID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = append(p.loaded, videoID)
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayer) Unmute() error { return nil }

func (p *fakePlayer) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[len(p.loaded)-1]
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// scriptedPersister records every snapshot and can hold calls open.
type scriptedPersister struct {
	inner Persister

	mu      sync.Mutex
	calls   []schemas.Lead
	fail    error
	hold    chan struct{}
	entered chan struct{}
}

func (p *scriptedPersister) Persist(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) schemas.PersistResult {
	p.mu.Lock()
	p.calls = append(p.calls, lead)
	hold, entered, fail := p.hold, p.entered, p.fail
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if hold != nil {
		<-hold
	}
	if fail != nil {
		return schemas.PersistResult{Status: schemas.PersistError, Err: fail}
	}
	if p.inner == nil {
		return schemas.PersistResult{Status: schemas.PersistCreated}
	}
	return p.inner.Persist(ctx, target, lead)
}

func (p *scriptedPersister) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type eventLog struct {
	mu     sync.Mutex
	events []schemas.StepEvent
}

func (l *eventLog) add(ev schemas.StepEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// steps lists the steps announced so far, in order.
func (l *eventLog) steps() []schemas.Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []schemas.Step{}
	for _, ev := range l.events {
		if ev.Action == schemas.EventStepShown {
			out = append(out, ev.Step)
		}
	}
	return out
}

func (l *eventLog) count(action string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Action == action {
			n++
		}
	}
	return n
}
