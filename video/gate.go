// Package video gates funnel steps on an embeddable video player. The player
// itself lives behind Engine; the gate only decides what to load, when to
// retry and which completion callback is still armed.
package video

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"advisor/schemas"
)

type Slot string

const (
	SlotIntro Slot = "intro"
	SlotPath  Slot = "path"
)

type Event string

const (
	EventStarted Event = "started"
	EventEnded   Event = "ended"
)

// Listener receives the playback events of a single slot.
type Listener func(Event)

// Engine is the playback engine boundary. Implementations must deliver
// events from their own goroutine and never from inside NewPlayer or a
// Player method.
type Engine interface {
	Ready() bool
	NewPlayer(slot Slot, videoID string, listener Listener) (Player, error)
}

type Player interface {
	Load(videoID string) error
	Stop() error
	Unmute() error
}

var (
	ErrNotReady   = errors.New("video: engine not ready")
	errSuperseded = errors.New("video: load superseded")
)

type Options struct {
	// RetryPolicy builds a fresh backoff for every pending load. Defaults to
	// a constant 500ms.
	RetryPolicy func() backoff.BackOff
	// MaxElapsed bounds how long a pending load keeps retrying. Zero retries
	// until the gate is closed or the load is superseded.
	MaxElapsed time.Duration
	Logger     *slog.Logger
}

// OptionsFromConfig maps the funnel's player section to gate options.
func OptionsFromConfig(cfg schemas.PlayerConfig, logger *slog.Logger) Options {
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = schemas.DefaultPlayerRetry
	}
	policy := func() backoff.BackOff { return backoff.NewConstantBackOff(interval) }
	if cfg.RetryMultiplier > 1 {
		policy = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = interval
			b.Multiplier = cfg.RetryMultiplier
			if cfg.RetryMaxInterval > 0 {
				b.MaxInterval = cfg.RetryMaxInterval
			}
			return b
		}
	}
	return Options{RetryPolicy: policy, MaxElapsed: cfg.RetryMaxElapsed, Logger: logger}
}

type load struct {
	videoID string
	onEnded func()
	cancel  context.CancelFunc
	// A reused player may still report the end of its previous video, so
	// its ended events count only after this load has started.
	awaitStart bool
}

// Gate owns one lazily created player per slot.
type Gate struct {
	engine Engine
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	players map[Slot]Player
	loads   map[Slot]*load
}

func NewGate(engine Engine, opts Options) *Gate {
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = func() backoff.BackOff { return backoff.NewConstantBackOff(schemas.DefaultPlayerRetry) }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		engine:  engine,
		opts:    opts,
		logger:  opts.Logger.With("component", "video-gate"),
		ctx:     ctx,
		cancel:  cancel,
		players: make(map[Slot]Player),
		loads:   make(map[Slot]*load),
	}
}

// Load plays source in slot and arms onEnded for this load only. It never
// blocks: when the engine is not ready yet the load is retried in the
// background according to the retry policy.
func (g *Gate) Load(slot Slot, source string, onEnded func()) {
	if strings.TrimSpace(source) == "" {
		g.logger.Warn("empty video reference, nothing to load", "slot", slot)
		return
	}
	id := ExtractID(source)

	g.mu.Lock()
	if prev := g.loads[slot]; prev != nil && prev.cancel != nil {
		prev.cancel()
	}
	l := &load{videoID: id, onEnded: onEnded}
	g.loads[slot] = l

	if g.engine.Ready() {
		err := g.attachLocked(slot, l)
		g.mu.Unlock()
		if err != nil {
			g.logger.Error("load video", "slot", slot, "video_id", id, "error", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(g.ctx)
	l.cancel = cancel
	g.mu.Unlock()

	g.logger.Warn("player engine not ready, retrying", "slot", slot, "video_id", id)
	go g.retry(ctx, slot, l)
}

func (g *Gate) retry(ctx context.Context, slot Slot, l *load) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if !g.engine.Ready() {
			return struct{}{}, ErrNotReady
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.loads[slot] != l {
			return struct{}{}, backoff.Permanent(errSuperseded)
		}
		l.cancel = nil
		if err := g.attachLocked(slot, l); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(g.opts.RetryPolicy()), backoff.WithMaxElapsedTime(g.opts.MaxElapsed))

	switch {
	case err == nil, errors.Is(err, errSuperseded), errors.Is(err, context.Canceled):
	default:
		g.logger.Error("giving up on video load", "slot", slot, "video_id", l.videoID, "error", err)
	}
}

func (g *Gate) attachLocked(slot Slot, l *load) error {
	if p, ok := g.players[slot]; ok {
		l.awaitStart = true
		return p.Load(l.videoID)
	}
	p, err := g.engine.NewPlayer(slot, l.videoID, func(ev Event) { g.handle(slot, ev) })
	if err != nil {
		return err
	}
	g.players[slot] = p
	return nil
}

func (g *Gate) handle(slot Slot, ev Event) {
	switch ev {
	case EventStarted:
		g.mu.Lock()
		p := g.players[slot]
		if l := g.loads[slot]; l != nil {
			l.awaitStart = false
		}
		g.mu.Unlock()
		if p == nil {
			return
		}
		// Browsers may refuse to unmute without a gesture.
		if err := p.Unmute(); err != nil {
			g.logger.Debug("unmute refused", "slot", slot, "error", err)
		}
	case EventEnded:
		g.mu.Lock()
		var fn func()
		if l := g.loads[slot]; l != nil && !l.awaitStart {
			fn, l.onEnded = l.onEnded, nil
		}
		g.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

// Stop halts playback in slot and disarms its completion callback. Unknown
// or never started slots are ignored.
func (g *Gate) Stop(slot Slot) {
	g.mu.Lock()
	if l := g.loads[slot]; l != nil {
		if l.cancel != nil {
			l.cancel()
		}
		delete(g.loads, slot)
	}
	p := g.players[slot]
	g.mu.Unlock()

	if p == nil {
		return
	}
	if err := p.Stop(); err != nil {
		g.logger.Debug("stop video", "slot", slot, "error", err)
	}
}

// Close cancels every pending load.
func (g *Gate) Close() {
	g.cancel()
	g.mu.Lock()
	clear(g.loads)
	g.mu.Unlock()
}
