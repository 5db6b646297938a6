// Package pool implements the agent instance cache: a reference-counted map
// from configuration id to a live agent instance, with single-flight
// construction, LRU capacity pressure and idle-timeout eviction.
//
// Per-key state machine:
//
//	absent -> constructing -> ready <-> ready-with-refs -> evicting -> absent
//
// Exactly one caller enters constructing; concurrent callers for the same
// key wait on the same construction and share its result or failure.
// Failures are not cached. An entry is only ever destroyed once it is
// detached from the map and its reference count has reached zero, so an
// in-flight execution can never race with teardown.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/logging"
)

// ErrClosed is returned by Acquire after the pool has been shut down.
var ErrClosed = errors.New("pool is closed")

// Recorder receives cache lifecycle notifications. The metrics package
// provides a prometheus-backed implementation; the default is a no-op.
type Recorder interface {
	ConstructionStarted()
	ConstructionFailed()
	Evicted()
}

type noopRecorder struct{}

func (noopRecorder) ConstructionStarted() {}
func (noopRecorder) ConstructionFailed() {}
func (noopRecorder) Evicted()            {}

// Options holds configuration overrides passed to New().
type Options struct {
	// Capacity is the soft bound on cached instances. When a new
	// construction would exceed it, the least-recently-used idle entry is
	// evicted; if every entry is pinned the pool temporarily exceeds the
	// cap instead of destroying in-use instances.
	Capacity int
	// IdleTimeout is how long an unreferenced instance may sit unused
	// before the sweep destroys it.
	IdleTimeout time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
	// ConstructTimeout bounds a single agent construction. On expiry all
	// waiters receive core.ErrConstructionTimeout and the key reverts to
	// absent.
	ConstructTimeout time.Duration
	// Logger receives pool lifecycle logs.
	Logger logging.Logger
	// Recorder receives cache metrics notifications.
	Recorder Recorder
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

type entryState int

const (
	stateConstructing entryState = iota
	stateReady
)

// entry is one cache slot. All fields are guarded by the pool mutex except
// instance and err, which are written once before ready is closed and only
// read afterwards.
type entry struct {
	configID string
	state    entryState

	ready    chan struct{} // closed when construction finishes
	instance core.AgentInstance
	err      error

	refs     int
	lastUsed time.Time

	// detached marks the entry as removed from the pool map (eviction,
	// invalidation or shutdown). Teardown runs when refs hits zero.
	detached bool
}

// Pool enforces at-most-one-live-instance-per-configuration under concurrent
// access. All methods are safe for concurrent use.
type Pool struct {
	factory  core.AgentFactory
	logger   logging.Logger
	recorder Recorder

	capacity         int
	idleTimeout      time.Duration
	sweepInterval    time.Duration
	constructTimeout time.Duration
	now              func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Pool around the given agent factory and starts the
// background sweep.
func New(factory core.AgentFactory, optFns ...func(o *Options)) *Pool {
	opts := Options{
		Capacity:         16,
		IdleTimeout:      30 * time.Minute,
		SweepInterval:    time.Minute,
		ConstructTimeout: 60 * time.Second,
		Logger:           logging.NoOpLogger{},
		Recorder:         noopRecorder{},
		Clock:            time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	p := &Pool{
		factory:          factory,
		logger:           opts.Logger,
		recorder:         opts.Recorder,
		capacity:         opts.Capacity,
		idleTimeout:      opts.IdleTimeout,
		sweepInterval:    opts.SweepInterval,
		constructTimeout: opts.ConstructTimeout,
		now:              opts.Clock,
		entries:          make(map[string]*entry),
		done:             make(chan struct{}),
	}

	p.wg.Add(1)
	go p.sweepLoop()

	return p
}

// Handle is a counted reference to a cached instance. The holder must call
// Release exactly once; Release is idempotent as a safety net for deferred
// cleanup paths.
type Handle struct {
	pool *Pool
	ent  *entry
	once sync.Once
}

// Instance returns the agent instance this handle pins.
func (h *Handle) Instance() core.AgentInstance { return h.ent.instance }

// ConfigID returns the configuration id the instance was built from.
func (h *Handle) ConfigID() string { return h.ent.configID }

// Release drops the reference and updates the idle clock. If the entry was
// invalidated or evicted while in use, the last release destroys it.
func (h *Handle) Release() {
	h.once.Do(func() { h.pool.release(h.ent) })
}

// Acquire returns a handle for the configuration, constructing the instance
// if no live one exists. Exactly one concurrent caller performs the
// construction; the rest wait for its outcome. The caller owns a reference
// and must Release it.
func (p *Pool) Acquire(ctx context.Context, cfg *core.Configuration) (*Handle, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		e, ok := p.entries[cfg.ID]
		if !ok {
			e = &entry{
				configID: cfg.ID,
				state:    stateConstructing,
				ready:    make(chan struct{}),
			}
			p.makeRoomLocked()
			p.entries[cfg.ID] = e
			p.mu.Unlock()

			p.recorder.ConstructionStarted()
			go p.construct(e, cfg)
		} else {
			p.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.ready:
		}

		if e.err != nil {
			return nil, e.err
		}

		p.mu.Lock()
		if e.detached {
			// Evicted or invalidated between construction completing and
			// this caller observing it. Start over with a fresh entry.
			p.mu.Unlock()
			continue
		}
		e.refs++
		e.lastUsed = p.now()
		p.mu.Unlock()

		return &Handle{pool: p, ent: e}, nil
	}
}

// construct runs the factory call for a single-flight entry. Construction is
// bounded by ConstructTimeout and deliberately not tied to the initiating
// caller's context: other callers may be waiting on the same entry.
func (p *Pool) construct(e *entry, cfg *core.Configuration) {
	ctx, cancel := context.WithTimeout(context.Background(), p.constructTimeout)
	defer cancel()

	type result struct {
		instance core.AgentInstance
		err      error
	}

	// The factory call runs in its own goroutine so a hung collaborator
	// cannot wedge the cache key: on timeout the key reverts to absent and
	// a late-arriving instance is torn down unused.
	resCh := make(chan result, 1)
	go func() {
		instance, err := p.factory.Construct(ctx, cfg)
		resCh <- result{instance: instance, err: err}
	}()

	var instance core.AgentInstance
	var err error
	select {
	case res := <-resCh:
		instance, err = res.instance, res.err
	case <-ctx.Done():
		err = ctx.Err()
		go func() {
			if res := <-resCh; res.instance != nil {
				if terr := p.factory.Teardown(res.instance); terr != nil {
					p.logger.Warn("teardown of late construction failed", "config_id", cfg.ID, "error", terr)
				}
			}
		}()
	}

	p.mu.Lock()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.err = core.ErrConstructionTimeout
		} else {
			e.err = &core.ConstructionError{ConfigID: cfg.ID, Err: err}
		}
		// Failure is not cached: the key reverts to absent so a later
		// acquire retries. Guard against the entry having been replaced.
		if p.entries[cfg.ID] == e {
			delete(p.entries, cfg.ID)
		}
		p.mu.Unlock()

		close(e.ready)
		p.recorder.ConstructionFailed()
		p.logger.Warn("agent construction failed", "config_id", cfg.ID, "error", e.err)
		return
	}

	e.instance = instance
	e.state = stateReady
	e.lastUsed = p.now()
	detached := e.detached
	p.mu.Unlock()

	close(e.ready)
	p.logger.Info("agent instance constructed", "config_id", cfg.ID)

	if detached {
		// Invalidated (or the pool shut down) while constructing; nobody
		// can ever take a reference, so destroy immediately.
		p.teardown(e)
	}
}

func (p *Pool) release(e *entry) {
	p.mu.Lock()
	e.refs--
	e.lastUsed = p.now()
	destroy := e.detached && e.refs == 0
	p.mu.Unlock()

	if destroy {
		p.teardown(e)
	}
}

// Invalidate marks the entry for destruction. With zero references it is
// destroyed immediately; otherwise destruction is deferred until the last
// holder releases. A subsequent Acquire triggers fresh construction either
// way.
func (p *Pool) Invalidate(configID string) {
	p.mu.Lock()
	e, ok := p.entries[configID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.entries, configID)
	e.detached = true
	destroy := e.state == stateReady && e.refs == 0
	p.mu.Unlock()

	if destroy {
		p.teardown(e)
	}
	p.logger.Info("agent instance invalidated", "config_id", configID, "deferred", !destroy)
}

// Len returns the number of cached entries, including ones still
// constructing.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Sweep evicts every idle entry whose unreferenced time meets the idle
// timeout. It runs on the sweep interval but is exported so operators (and
// tests) can force a pass.
func (p *Pool) Sweep() {
	now := p.now()

	p.mu.Lock()
	var victims []*entry
	for id, e := range p.entries {
		if e.state != stateReady || e.refs > 0 {
			continue
		}
		if now.Sub(e.lastUsed) < p.idleTimeout {
			continue
		}
		delete(p.entries, id)
		e.detached = true
		victims = append(victims, e)
	}
	p.mu.Unlock()

	for _, e := range victims {
		p.logger.Info("evicting idle agent instance", "config_id", e.configID)
		p.teardown(e)
	}
}

// makeRoomLocked evicts least-recently-used idle entries until the pool is
// under capacity. Pinned and constructing entries are never evicted, so the
// cap is a soft bound. Caller holds p.mu.
func (p *Pool) makeRoomLocked() {
	for len(p.entries) >= p.capacity {
		var victim *entry
		for _, e := range p.entries {
			if e.state != stateReady || e.refs > 0 {
				continue
			}
			if victim == nil || e.lastUsed.Before(victim.lastUsed) {
				victim = e
			}
		}
		if victim == nil {
			return
		}
		delete(p.entries, victim.configID)
		victim.detached = true
		go func(e *entry) {
			p.logger.Info("evicting agent instance for capacity", "config_id", e.configID)
			p.teardown(e)
		}(victim)
	}
}

func (p *Pool) teardown(e *entry) {
	if e.instance == nil {
		return
	}
	if err := p.factory.Teardown(e.instance); err != nil {
		p.logger.Warn("agent teardown failed", "config_id", e.configID, "error", err)
	}
	p.recorder.Evicted()
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Close stops the sweep and destroys every idle instance. Entries still in
// use are destroyed when their last holder releases. Acquire fails with
// ErrClosed afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)

	var victims []*entry
	for id, e := range p.entries {
		delete(p.entries, id)
		e.detached = true
		if e.state == stateReady && e.refs == 0 {
			victims = append(victims, e)
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
	for _, e := range victims {
		p.teardown(e)
	}
}
